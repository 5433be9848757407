// Package client talks to a craftctl admin API over HTTP. It mirrors the
// wire payloads instead of importing craftctl packages so remote tooling
// only needs this package.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Client drives a remote craftctl serve instance.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration. BaseURL includes the configured base
// path when the daemon serves under one, e.g. "https://host:8080/craftctl".
type Config struct {
	BaseURL  string
	Token    string // bearer token matching the daemon's [server] token
	Timeout  time.Duration
	Logger   *slog.Logger // optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // skip TLS verification
}

// TLSClientConfig holds TLS configuration for the client side.
type TLSClientConfig struct {
	Enabled    bool
	CACert     string // CA certificate file path
	ClientCert string // client certificate file
	ClientKey  string // client private key file
	ServerName string // server name for verification
	SkipVerify bool   // skip certificate verification
}

// DefaultConfig returns a configuration for a local plaintext daemon.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080",
		Timeout: 10 * time.Second,
	}
}

// DefaultTLSConfig returns a configuration for a local TLS daemon.
func DefaultTLSConfig() Config {
	return Config{
		BaseURL: "https://localhost:8080",
		Timeout: 10 * time.Second,
		TLS: &TLSClientConfig{
			Enabled: true,
		},
	}
}

// New creates an admin API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if (config.TLS != nil && config.TLS.Enabled) || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		token:   config.Token,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable reports whether the admin API itself answers. The managed
// server's state does not matter here; /status tells that story.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Status returns the managed server's liveness and PID.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	if err := c.get(ctx, "/status", &st); err != nil {
		return Status{}, err
	}
	return st, nil
}

// Start brings the managed server up.
func (c *Client) Start(ctx context.Context) error {
	return c.post(ctx, "/start", nil, nil)
}

// Stop shuts the managed server down.
func (c *Client) Stop(ctx context.Context) error {
	return c.post(ctx, "/stop", nil, nil)
}

// Restart stops the managed server and starts it again.
func (c *Client) Restart(ctx context.Context) error {
	return c.post(ctx, "/restart", nil, nil)
}

// Backup takes a snapshot now and returns its path on the daemon host.
func (c *Client) Backup(ctx context.Context) (string, error) {
	var resp backupResponse
	if err := c.post(ctx, "/backups", nil, &resp); err != nil {
		return "", err
	}
	return resp.Path, nil
}

// Backups lists the retained snapshots, newest first.
func (c *Client) Backups(ctx context.Context) ([]BackupEntry, error) {
	var entries []BackupEntry
	if err := c.get(ctx, "/backups", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Send relays console commands to the managed server, in order, one line
// each.
func (c *Client) Send(ctx context.Context, commands ...string) error {
	body, err := json.Marshal(commandRequest{Commands: commands})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.post(ctx, "/command", body, nil)
}

// setupClientTLS configures TLS settings for the HTTP transport.
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads a CA certificate file into the TLS config.
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = caCertPool
	return nil
}

// get performs a GET and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

// post performs a POST with an optional JSON body, decoding the response
// into out when out is non-nil.
func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", req.URL.String())
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var errorResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
		return fmt.Errorf("API error: %s", errorResp.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
