// Package tls turns a service's "tls" setting into a *tls.Config, generating
// a self-signed certificate on demand.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

// Config is the "tls" object of a service entry.
type Config struct {
	Enabled      bool     `mapstructure:"enabled"`
	CertFile     string   `mapstructure:"cert_file"`
	KeyFile      string   `mapstructure:"key_file"`
	Dir          string   `mapstructure:"dir"`
	AutoGenerate bool     `mapstructure:"auto_generate"`
	MinVersion   string   `mapstructure:"min_version"`
	MaxVersion   string   `mapstructure:"max_version"`
	CommonName   string   `mapstructure:"common_name"`
	Organization string   `mapstructure:"organization"`
	DNSNames     []string `mapstructure:"dns_names"`
	IPAddresses  []string `mapstructure:"ip_addresses"`
	ValidDays    int      `mapstructure:"valid_days"`
}

// Decode reads a Config from a decoded JSON object. A nil raw value
// yields a disabled config.
func Decode(raw any) (Config, error) {
	var c Config
	if raw == nil {
		return c, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &c,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return c, err
	}
	if err := dec.Decode(raw); err != nil {
		return c, fmt.Errorf("tls settings: %w", err)
	}
	return c, nil
}

// parseTLSVersion parses TLS version string and returns the corresponding constant
func parseTLSVersion(ver string) (uint16, bool) {
	switch strings.ToLower(ver) {
	case "", "default":
		return tls.VersionTLS13, false
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

func resolveTLSVersions(c Config) (min uint16, max uint16, err error) {
	min, max = tls.VersionTLS13, tls.VersionTLS13
	if c.MinVersion != "" {
		v, ok := parseTLSVersion(c.MinVersion)
		if !ok {
			return 0, 0, fmt.Errorf("unsupported tls min_version %q", c.MinVersion)
		}
		min = v
	}
	if c.MaxVersion != "" {
		v, ok := parseTLSVersion(c.MaxVersion)
		if !ok {
			return 0, 0, fmt.Errorf("unsupported tls max_version %q", c.MaxVersion)
		}
		max = v
	}
	if min > max {
		return 0, 0, errors.New("tls min_version is above max_version")
	}
	return min, max, nil
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

// getCertificationFunc reloads the key pair on every handshake so rotated
// files are picked up without a restart.
func getCertificationFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
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

// Setup returns nil when TLS is disabled. Explicit cert/key files win over
// a certificate directory.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, maxVer, err := resolveTLSVersions(c)
	if err != nil {
		return nil, err
	}
	if c.CertFile != "" && c.KeyFile != "" {
		return createTLSConfig(c.CertFile, c.KeyFile, minVer, maxVer), nil
	}
	if c.Dir != "" {
		keyPath := filepath.Join(c.Dir, tlsKey)
		certPath := filepath.Join(c.Dir, tlsCrt)
		if c.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := generateCertificate(c); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		return createTLSConfig(certPath, keyPath, minVer, maxVer), nil
	}
	return nil, errors.New("TLS enabled but no valid certificate configuration found")
}

// CACertPath is where a generated self-signed certificate is also written
// for clients to trust.
func CACertPath(dir string) string { return filepath.Join(dir, tlsCaCrt) }

func getOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func getOrDefaultSlice(value, defaultValue []string) []string {
	if len(value) == 0 {
		return defaultValue
	}
	return value
}

func createTLSConfig(certPath, keyPath string, minVer, maxVer uint16) *tls.Config {
	return &tls.Config{
		GetCertificate: getCertificationFunc(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generateCertificate(c Config) error {
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	validDays := c.ValidDays
	if validDays <= 0 {
		validDays = 365
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   getOrDefault(c.CommonName, "localhost"),
		Organization: getOrDefault(c.Organization, "symbiont"),
		DNSNames:     getOrDefaultSlice(c.DNSNames, []string{"localhost"}),
		IPAddresses:  getOrDefaultSlice(c.IPAddresses, []string{"127.0.0.1"}),
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     filepath.Join(c.Dir, tlsCrt),
		KeyPath:      filepath.Join(c.Dir, tlsKey),
		CACertPath:   CACertPath(c.Dir),
	})
}
