package client

import "time"

// Status mirrors the admin API status payload.
type Status struct {
	Running bool `json:"running"`
	PID     int  `json:"pid,omitempty"`
	Stale   bool `json:"stale,omitempty"`
}

// BackupEntry mirrors one snapshot in the backup list payload.
type BackupEntry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	IsDir   bool      `json:"is_dir"`
	ModTime time.Time `json:"mod_time"`
}

type commandRequest struct {
	Commands []string `json:"commands"`
}

type backupResponse struct {
	OK   bool   `json:"ok"`
	Path string `json:"path"`
}

// ErrorResponse is the error payload every endpoint shares.
type ErrorResponse struct {
	Error string `json:"error"`
}
