package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/symbiont/internal/env"
	"github.com/loykin/symbiont/internal/options"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"
)

const (
	DefaultFileName    = "symbiont.config.json"
	ServicesSectionKey = "services"
	ServiceNameKey     = "name"
	ServiceIfaceKey    = "interface"
	ServiceLogLevelKey = "log_level"
)

var (
	// ErrConfigFileNotFound is returned when the resolved config path does not exist.
	ErrConfigFileNotFound = errors.New("config file not found")
	// ErrInvalidService is returned for service entries that cannot be turned into descriptors.
	ErrInvalidService = errors.New("invalid service entry")
)

// ServiceConfig describes one service. It is created once at load time and
// never mutated afterwards.
type ServiceConfig struct {
	Name      string
	Interface string
	LogLevel  string
	// Settings holds the whole entry, including name and interface.
	Settings map[string]any
}

// HasInterface reports whether the entry declared an interface locator.
func (s ServiceConfig) HasInterface() bool {
	return s.Interface != ""
}

// Get returns a raw setting.
func (s ServiceConfig) Get(key string) (any, bool) {
	v, ok := s.Settings[key]
	return v, ok
}

// String returns a setting coerced to string, or def.
func (s ServiceConfig) String(key, def string) string {
	if v, ok := s.Settings[key]; ok {
		if str, err := cast.ToStringE(v); err == nil {
			return str
		}
	}
	return def
}

// StringSlice returns a list setting coerced to strings.
func (s ServiceConfig) StringSlice(key string) []string {
	if v, ok := s.Settings[key]; ok {
		return cast.ToStringSlice(v)
	}
	return nil
}

func newServiceConfig(raw map[string]any) (ServiceConfig, error) {
	settings := make(map[string]any, len(raw))
	for k, v := range raw {
		settings[k] = v
	}
	name, err := cast.ToStringE(settings[ServiceNameKey])
	if err != nil || strings.TrimSpace(name) == "" {
		return ServiceConfig{}, fmt.Errorf("%w: every service requires a %q", ErrInvalidService, ServiceNameKey)
	}
	sc := ServiceConfig{Name: name, Settings: settings}
	if v, ok := settings[ServiceIfaceKey]; ok {
		sc.Interface = cast.ToString(v)
	}
	if v, ok := settings[ServiceLogLevelKey]; ok {
		sc.LogLevel = cast.ToString(v)
	}
	return sc, nil
}

// Config is the loaded application configuration. Services keeps file order.
type Config struct {
	v        *viper.Viper
	path     string
	services []ServiceConfig
}

// Locate resolves the config path: explicit > CONFIG_FILE option > <PATH>/symbiont.config.json.
func Locate(explicit string, opts *options.Options) string {
	if explicit != "" {
		return absOrSelf(explicit)
	}
	if opts == nil {
		return DefaultFileName
	}
	if f, ok := opts.Lookup(options.ConfigFileKey); ok {
		return absOrSelf(f)
	}
	return filepath.Join(opts.Path(), DefaultFileName)
}

func absOrSelf(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Load reads the config file at path. The format follows the extension,
// defaulting to JSON.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: attempted to load %q; make sure the %s_%s and %s_%s environment variables are correct. "+
				"When not set the path is the current working directory and the file name defaults to %q",
				ErrConfigFileNotFound, path,
				options.EnvPrefix, options.PathKey, options.EnvPrefix, options.ConfigFileKey, DefaultFileName)
		}
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	if format == "" {
		format = "json"
	}
	c, err := parse(data, format, path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return c, nil
}

// LoadReader reads configuration of the given format ("json", "yaml", "toml").
func LoadReader(r io.Reader, format string) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := parse(data, format, "")
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return c, nil
}

// parse feeds viper for top-level lookups and decodes the services section
// separately, since viper lowercases map keys and settings are case sensitive.
func parse(data []byte, format, path string) (*Config, error) {
	format = strings.ToLower(format)
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	doc, err := decodeDocument(data, format)
	if err != nil {
		return nil, err
	}
	return build(v, path, sectionOf(doc, ServicesSectionKey))
}

func decodeDocument(data []byte, format string) (map[string]any, error) {
	doc := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	var err error
	switch format {
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &doc)
	case "toml":
		err = toml.Unmarshal(data, &doc)
	default:
		err = json.Unmarshal(data, &doc)
	}
	return doc, err
}

// sectionOf finds key case-insensitively, matching viper's own lookup.
func sectionOf(doc map[string]any, key string) any {
	if v, ok := doc[key]; ok {
		return v
	}
	for k, v := range doc {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

func build(v *viper.Viper, path string, raw any) (*Config, error) {
	c := &Config{v: v, path: path}
	vars := env.New().FromOS()
	if raw == nil {
		return c, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q must be a list", ErrInvalidService, ServicesSectionKey)
	}
	for i, item := range list {
		m, err := cast.ToStringMapE(item)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d is not an object", ErrInvalidService, i)
		}
		// ${VAR} references in service settings come from the environment
		m, _ = vars.ExpandAny(m).(map[string]any)
		sc, err := newServiceConfig(m)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		c.services = append(c.services, sc)
	}
	return c, nil
}

// Path is the file the config was loaded from, empty for reader-based configs.
func (c *Config) Path() string { return c.path }

// Has reports whether key is present.
func (c *Config) Has(key string) bool { return c.v.IsSet(key) }

// Get returns the raw value for key, or def.
func (c *Config) Get(key string, def any) any {
	if !c.v.IsSet(key) {
		return def
	}
	return c.v.Get(key)
}

// GetString returns key coerced to string, or def.
func (c *Config) GetString(key, def string) string {
	if !c.v.IsSet(key) {
		return def
	}
	return c.v.GetString(key)
}

// GetInt returns key coerced to int, or def when unset or not numeric.
func (c *Config) GetInt(key string, def int) int {
	if !c.v.IsSet(key) {
		return def
	}
	n, err := cast.ToIntE(c.v.Get(key))
	if err != nil {
		return def
	}
	return n
}

// GetIntSlice returns key as []int. ok is false when the key is unset.
func (c *Config) GetIntSlice(key string) (vals []int, ok bool, err error) {
	if !c.v.IsSet(key) {
		return nil, false, nil
	}
	vals, err = cast.ToIntSliceE(c.v.Get(key))
	if err != nil {
		return nil, true, fmt.Errorf("config %q: %w", key, err)
	}
	return vals, true, nil
}

// Services returns the service descriptors in file order. Duplicated names
// are preserved here; the manager decides what to do with them.
func (c *Config) Services() []ServiceConfig {
	out := make([]ServiceConfig, len(c.services))
	copy(out, c.services)
	return out
}

// Service returns the last descriptor with the given name.
func (c *Config) Service(name string) (ServiceConfig, bool) {
	for i := len(c.services) - 1; i >= 0; i-- {
		if c.services[i].Name == name {
			return c.services[i], true
		}
	}
	return ServiceConfig{}, false
}
