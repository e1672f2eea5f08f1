// Package options aggregates process-wide options from defaults, the
// SYMBIONT_* environment and command line flags.
package options

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

const EnvPrefix = "SYMBIONT"

// Well-known option keys.
const (
	PathKey             = "PATH"
	ConfigFileKey       = "CONFIG_FILE"
	LoggerLevelKey      = "LOGGER_LEVEL"
	LoggerNameKey       = "LOGGER_NAME"
	LoggerFormatKey     = "LOGGER_FORMAT"
	LogFileKey          = "LOG_FILE"
	ProclistFileNameKey = "PROCLIST_FILE_NAME"
	ProclistDSNKey      = "PROCLIST_DSN"
)

// cliAliases maps flag names onto option keys.
var cliAliases = map[string]string{
	"path":      PathKey,
	"config":    ConfigFileKey,
	"log_level": LoggerLevelKey,
	"log-level": LoggerLevelKey,
}

// Options is an immutable view over the merged option sources.
// Precedence: CLI > environment > defaults.
type Options struct {
	v *viper.Viper
}

// New merges defaults, the environment and cli. Empty cli values are ignored.
func New(cli map[string]string) *Options {
	return newWithEnv(cli, os.Environ())
}

func newWithEnv(cli map[string]string, environ []string) *Options {
	v := viper.New()
	if wd, err := os.Getwd(); err == nil {
		v.SetDefault(PathKey, wd)
	}
	prefix := EnvPrefix + "_"
	for _, kv := range environ {
		i := strings.IndexByte(kv, '=')
		if i < 0 || !strings.HasPrefix(kv[:i], prefix) {
			continue
		}
		key := strings.TrimPrefix(kv[:i], prefix)
		if key == "" {
			continue
		}
		v.Set(key, kv[i+1:])
	}
	// applied after the environment so flags win
	for k, val := range cli {
		if val == "" {
			continue
		}
		if alias, ok := cliAliases[k]; ok {
			k = alias
		}
		v.Set(k, val)
	}
	return &Options{v: v}
}

// Lookup reports the value of key and whether any source set it.
func (o *Options) Lookup(key string) (string, bool) {
	if !o.v.IsSet(key) {
		return "", false
	}
	s := o.v.GetString(key)
	return s, s != ""
}

// Get returns the option or def when unset.
func (o *Options) Get(key, def string) string {
	if s, ok := o.Lookup(key); ok {
		return s
	}
	return def
}

// Path is the working path used to derive relative file locations.
func (o *Options) Path() string {
	return o.Get(PathKey, ".")
}

// ParseKV splits repeated KEY=VALUE flags into a map; malformed entries are skipped.
func ParseKV(pairs []string) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			out[strings.TrimSpace(kv[:i])] = strings.TrimSpace(kv[i+1:])
		}
	}
	return out
}
