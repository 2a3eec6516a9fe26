package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hopsworks/expat/internal/fault"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "EXPAT"

// Config is a typed view over the layered configuration sources.
type Config struct {
	v    *viper.Viper
	file string
}

// Load reads configuration with precedence:
// 1. Environment variables (EXPAT_*, or EXPAT_*_FILE to read the value from a file)
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. YAML file: file argument, $EXPAT_CONFIG, ~/.config/expat/config.yaml or <expat.dir>/etc/expat-site.yaml
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetDefault(KeyDBDriver, "mysql")
	v.SetDefault(KeyInodesTable, "hops.hdfs_inodes")
	v.SetDefault(KeyEpipeLibraries, "/srv/hops/mysql/lib")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyDryRun, false)

	// Load .env.local if it exists (walking up parent directories)
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := &Config{v: v}

	path, explicit := configFile(file)
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if explicit {
				return nil, fault.Configuration.New("config file %s: %v", path, err)
			}
		} else {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fault.Configuration.New("failed to read config file %s: %v", path, err)
			}
			cfg.file = path
		}
	}

	// _FILE variants carry secrets mounted as files
	for _, key := range Keys {
		env := EnvName(key)
		if os.Getenv(env) != "" {
			continue
		}
		if val := getEnvOrFile(env, env+"_FILE"); val != "" {
			v.Set(key, strings.TrimSpace(val))
		}
	}

	return cfg, nil
}

// FromMap builds a Config from literal values. Intended for tests and for
// callers that assemble configuration programmatically.
func FromMap(values map[string]any) *Config {
	v := viper.New()
	for k, val := range values {
		v.Set(k, val)
	}
	return &Config{v: v}
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return EnvPrefix + "_" + strings.ToUpper(r.Replace(key))
}

// File returns the YAML file that was read, if any.
func (c *Config) File() string { return c.file }

// Set overrides a key, e.g. from a command line flag.
func (c *Config) Set(key string, value any) { c.v.Set(key, value) }

// IsSet reports whether key has a value from any source.
func (c *Config) IsSet(key string) bool {
	return c.v.IsSet(key) && c.String(key) != ""
}

// String returns the trimmed string value of key.
func (c *Config) String(key string) string {
	return strings.TrimSpace(c.v.GetString(key))
}

// StringOr returns the value of key or def when it is empty.
func (c *Config) StringOr(key, def string) string {
	if s := c.String(key); s != "" {
		return s
	}
	return def
}

// Bool returns the boolean value of key.
func (c *Config) Bool(key string) bool { return c.v.GetBool(key) }

// Duration returns the duration value of key or def when unset.
func (c *Config) Duration(key string, def time.Duration) time.Duration {
	if !c.v.IsSet(key) {
		return def
	}
	return c.v.GetDuration(key)
}

// Strings returns a list value. YAML lists are returned as-is and scalar
// strings are split on commas.
func (c *Config) Strings(key string) []string {
	var out []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	switch raw := c.v.Get(key).(type) {
	case nil:
	case []string:
		for _, s := range raw {
			add(s)
		}
	case []any:
		for _, s := range raw {
			add(fmt.Sprint(s))
		}
	case string:
		for _, s := range strings.Split(raw, ",") {
			add(s)
		}
	default:
		add(fmt.Sprint(raw))
	}
	return out
}

// Require returns the value of key or a configuration error naming it.
func (c *Config) Require(key string) (string, error) {
	if s := c.String(key); s != "" {
		return s, nil
	}
	return "", fault.MissingKey(key)
}

// RequireAll checks several keys at once and reports every missing one.
func (c *Config) RequireAll(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if c.String(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fault.Configuration.New("missing required setting(s): %s", strings.Join(missing, ", "))
}

// DryRun reports whether mutations must be suppressed.
func (c *Config) DryRun() bool { return c.Bool(KeyDryRun) }

// Settings returns every known key with secrets masked, sorted by key.
func (c *Config) Settings() [][2]string {
	keys := append([]string(nil), Keys...)
	sort.Strings(keys)
	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		val := c.v.GetString(k)
		if val == "" {
			if list := c.Strings(k); len(list) > 0 {
				val = strings.Join(list, ",")
			}
		}
		if secretKeys[k] && val != "" {
			val = "********"
		}
		out = append(out, [2]string{k, val})
	}
	return out
}

// configFile picks the YAML file to read. explicit is true when the caller or
// the environment named the file, in which case it must exist.
func configFile(file string) (path string, explicit bool) {
	if file != "" {
		return file, true
	}
	if env := os.Getenv(EnvPrefix + "_CONFIG"); env != "" {
		return env, true
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(homeDir, ".config", "expat", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p, false
		}
	}
	if dir := os.Getenv(EnvName(KeyExpatDir)); dir != "" {
		return filepath.Join(dir, "etc", "expat-site.yaml"), false
	}
	return "", false
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}

	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return string(data)
		}
	}

	return ""
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		} else if !errors.Is(err, os.ErrNotExist) {
			return ""
		}

		if dir == homeDir {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
