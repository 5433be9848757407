// Package tls builds the optional HTTPS configuration for the admin API.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/craftctl/internal/config"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

// Setup resolves the admin API's TLS configuration. A nil or disabled
// config yields (nil, nil) and the server stays plain HTTP. Explicit
// cert/key paths win; otherwise Auto generates a self-signed pair under
// certDir on first use and reuses it afterwards.
func Setup(cfg *config.TLSConfig, certDir string) (*tls.Config, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		return newConfig(cfg.CertFile, cfg.KeyFile), nil
	}
	if !cfg.Auto {
		return nil, errors.New("tls enabled but no certificate configured and auto generation is off")
	}

	certPath := filepath.Join(certDir, tlsCrt)
	keyPath := filepath.Join(certDir, tlsKey)
	if !certificatesExist(certPath, keyPath) {
		if err := os.MkdirAll(certDir, 0o755); err != nil {
			return nil, fmt.Errorf("create certificate directory: %w", err)
		}
		err := GenerateSelfSignedCert(CertConfig{
			CommonName:   "localhost",
			Organization: "craftctl",
			DNSNames:     []string{"localhost"},
			IPAddresses:  []string{"127.0.0.1", "::1"},
			NotAfter:     time.Now().AddDate(5, 0, 0),
			CertPath:     certPath,
			KeyPath:      keyPath,
			CACertPath:   filepath.Join(certDir, tlsCaCrt),
		})
		if err != nil {
			return nil, fmt.Errorf("certificate generation failed: %w", err)
		}
	}
	return newConfig(certPath, keyPath), nil
}

// newConfig loads the pair on every handshake so a rotated certificate is
// picked up without a restart.
func newConfig(certPath, keyPath string) *tls.Config {
	return &tls.Config{
		GetCertificate: getCertificateFunc(certPath, keyPath),
		MinVersion:     tls.VersionTLS12,
	}
}

// getCertificateFunc returns a function that loads certificates dynamically
func getCertificateFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		readCert, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		readKey, err := safeReadFile(baseDir, keyFile)
		if err != nil {
			return nil, err
		}
		certificate, err := tls.X509KeyPair(readCert, readKey)
		return &certificate, err
	}
}

// safeReadFile reads file content safely within base directory
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// certificatesExist checks if both certificate files exist
func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}
