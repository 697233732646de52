package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/teranos/preempt/errors"
)

// EnvPrefix prefixes every environment override (PREEMPT_REQUEUE_DRY_RUN=true)
const EnvPrefix = "PREEMPT"

// SystemConfigPath is the lowest precedence configuration file
var SystemConfigPath = "/etc/preempt/" + FileName

// Source is one configuration file considered during loading
type Source struct {
	Kind   string // system, user, project or explicit
	Path   string
	Loaded bool
	Err    error
}

var (
	globalConfig  *Config
	viperInstance *viper.Viper
	loadedSources []Source
)

// Load reads the configuration cascade:
// system < user < project < PREEMPT_* environment.
// The result is cached until Reset.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	cfg, err := LoadWithViper(GetViper())
	if err != nil {
		return nil, err
	}
	globalConfig = cfg
	return globalConfig, nil
}

// LoadFromFile loads defaults, then configPath, then environment overrides.
// The cascade is skipped entirely. Not cached.
func LoadFromFile(configPath string) (*Config, error) {
	v := newViper()
	src := Source{Kind: "explicit", Path: configPath}
	if err := mergeFile(v, configPath); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}
	src.Loaded = true

	viperInstance = v
	loadedSources = []Source{src}
	return LoadWithViper(v)
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &cfg, nil
}

// GetViper returns the Viper instance backing Load
func GetViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := newViper()
	loadedSources = mergeConfigFiles(v)
	viperInstance = v
	return v
}

// Sources reports the files considered by the last load, lowest precedence first
func Sources() []Source {
	GetViper()
	return append([]Source(nil), loadedSources...)
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
	loadedSources = nil
}

// Get returns a configuration value using dot notation
func Get(key string) interface{} {
	return GetViper().Get(key)
}

// GetString returns a configuration value as string using dot notation
func GetString(key string) string {
	return GetViper().GetString(key)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// findProjectConfig walks up from the working directory looking for preempt.toml
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// mergeConfigFiles merges configuration files in precedence order.
// Missing files are skipped; unreadable ones are recorded and skipped.
func mergeConfigFiles(v *viper.Viper) []Source {
	sources := []Source{{Kind: "system", Path: SystemConfigPath}}

	if homeDir, err := os.UserHomeDir(); err == nil {
		sources = append(sources, Source{Kind: "user", Path: filepath.Join(homeDir, ".preempt", FileName)})
	}
	if projectConfig := findProjectConfig(); projectConfig != "" {
		sources = append(sources, Source{Kind: "project", Path: projectConfig})
	}

	for i := range sources {
		if _, err := os.Stat(sources[i].Path); err != nil {
			continue
		}
		if err := mergeFile(v, sources[i].Path); err != nil {
			sources[i].Err = err
			continue
		}
		sources[i].Loaded = true
	}
	return sources
}

func mergeFile(v *viper.Viper, path string) error {
	tempViper := viper.New()
	tempViper.SetConfigFile(path)
	tempViper.SetConfigType("toml")
	if err := tempViper.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(tempViper.AllSettings())
}
