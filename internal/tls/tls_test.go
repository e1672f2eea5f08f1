package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
)

func TestDecodeSettings(t *testing.T) {
	c, err := Decode(map[string]any{
		"enabled":       true,
		"dir":           "/tmp/x",
		"auto_generate": "true",
		"dns_names":     []any{"a.local"},
		"valid_days":    30.0,
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !c.Enabled || !c.AutoGenerate || c.Dir != "/tmp/x" || c.ValidDays != 30 || len(c.DNSNames) != 1 {
		t.Fatalf("unexpected config: %+v", c)
	}
	if _, err := Decode(map[string]any{"enabeld": true}); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
	if c, err := Decode(nil); err != nil || c.Enabled {
		t.Fatalf("nil settings should be disabled: %+v %v", c, err)
	}
}

func TestSetupDisabled(t *testing.T) {
	cfg, err := Setup(Config{})
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config, got %v %v", cfg, err)
	}
}

func TestSetupNoCertificates(t *testing.T) {
	if _, err := Setup(Config{Enabled: true}); err == nil {
		t.Fatal("expected error without cert files or dir")
	}
}

func TestSetupAutoGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	cfg, err := Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true, MinVersion: "1.2"})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS12 || cfg.MaxVersion != tls.VersionTLS13 {
		t.Fatalf("unexpected versions %x-%x", cfg.MinVersion, cfg.MaxVersion)
	}
	cert, err := cfg.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil {
		t.Fatalf("load cert: %v", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}
	if leaf.Subject.CommonName != "localhost" {
		t.Fatalf("unexpected CN %q", leaf.Subject.CommonName)
	}
	if _, err := os.Stat(CACertPath(dir)); err != nil {
		t.Fatalf("ca cert missing: %v", err)
	}
}

func TestSetupBadVersion(t *testing.T) {
	if _, err := Setup(Config{Enabled: true, Dir: t.TempDir(), MinVersion: "1.0"}); err == nil {
		t.Fatal("expected unsupported version error")
	}
	if _, err := Setup(Config{Enabled: true, Dir: t.TempDir(), MinVersion: "1.3", MaxVersion: "1.2"}); err == nil {
		t.Fatal("expected min above max error")
	}
}
