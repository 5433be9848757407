package tls

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/craftctl/internal/config"
)

func TestSetupDisabled(t *testing.T) {
	conf, err := Setup(nil, t.TempDir())
	if err != nil || conf != nil {
		t.Fatalf("nil config: conf=%v err=%v", conf, err)
	}
	conf, err = Setup(&config.TLSConfig{Enabled: false}, t.TempDir())
	if err != nil || conf != nil {
		t.Fatalf("disabled config: conf=%v err=%v", conf, err)
	}
}

func TestSetupRequiresCertOrAuto(t *testing.T) {
	_, err := Setup(&config.TLSConfig{Enabled: true}, t.TempDir())
	if err == nil {
		t.Fatalf("expected error when nothing is configured")
	}
}

func TestSetupAutoGeneratesAndReuses(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.TLSConfig{Enabled: true, Auto: true}

	conf, err := Setup(cfg, dir)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if conf == nil || conf.GetCertificate == nil {
		t.Fatalf("expected a usable tls.Config, got %+v", conf)
	}
	cert, err := conf.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil {
		t.Fatalf("load generated certificate: %v", err)
	}
	if cert.Leaf == nil && len(cert.Certificate) == 0 {
		t.Fatalf("empty certificate")
	}

	for _, name := range []string{tlsCrt, tlsKey, tlsCaCrt} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}

	// A second setup must reuse the pair rather than regenerate it.
	before, err := os.Stat(filepath.Join(dir, tlsCrt))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Setup(cfg, dir); err != nil {
		t.Fatalf("second setup: %v", err)
	}
	after, err := os.Stat(filepath.Join(dir, tlsCrt))
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Fatalf("certificate was regenerated")
	}
}

func TestGenerateSelfSignedCertExpiry(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "c.crt")
	keyPath := filepath.Join(dir, "c.key")
	err := GenerateSelfSignedCert(CertConfig{
		CommonName: "test",
		DNSNames:   []string{"test"},
		NotAfter:   time.Now().Add(24 * time.Hour),
		CertPath:   certPath,
		KeyPath:    keyPath,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		t.Fatalf("generated pair does not load: %v", err)
	}
}

func TestSafeReadFileRejectsOutsideBase(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(outside, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := safeReadFile(dir, outside); err == nil {
		t.Fatalf("expected rejection of path outside base dir")
	}
}
