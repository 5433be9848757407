package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/craftctl/internal/errdefs"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// isSafeCommand validates a console command before it is relayed: non-empty
// after trimming, no control characters that would split it into multiple
// lines on the pipe. An embedded line break would smuggle extra commands
// into the server console.
func isSafeCommand(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	if strings.ContainsAny(s, "\n\r\x00") {
		return false
	}
	return true
}

// statusFor maps the failure taxonomy onto HTTP statuses. State conflicts
// (already running, not running, lock held, backups disabled) report 409.
// A missing latest pointer is 404. A server that would not come up or go
// down within bounds is 503. Everything unclassified stays 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errdefs.ErrAlreadyRunning),
		errors.Is(err, errdefs.ErrNotRunning),
		errors.Is(err, errdefs.ErrLockHeld),
		errors.Is(err, errdefs.ErrBackupsDisabled):
		return http.StatusConflict
	case errors.Is(err, errdefs.ErrLatestNotFound):
		return http.StatusNotFound
	case errors.Is(err, errdefs.ErrCannotStart),
		errors.Is(err, errdefs.ErrServerDisappeared),
		errors.Is(err, errdefs.ErrStopTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
