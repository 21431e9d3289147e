package riskcfg

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/spf13/viper"
)

// AppConfig carries the operational settings the domain RiskConfig has no
// room for: where state lives, where backups go, what the admin surface
// listens on. Loaded through viper the way internal/config/config.go loads
// the rest of the application's settings, with RISKCORE_ environment
// variable overrides.
type AppConfig struct {
	BackupDirectory  string `mapstructure:"backup_directory"`
	AuditLogPath     string `mapstructure:"audit_log_path"`
	MetricsAddr      string `mapstructure:"metrics_addr"`
	AdminAddr        string `mapstructure:"admin_addr"`
	LogLevel         string `mapstructure:"log_level"`
	ConfigPath       string `mapstructure:"config_path"`
}

func defaultAppConfig() AppConfig {
	return AppConfig{
		BackupDirectory: "./data/backups",
		AuditLogPath:    "./data/audit.log",
		MetricsAddr:     ":9090",
		AdminAddr:       ":8090",
		LogLevel:        "info",
		ConfigPath:      "./risk_config.json",
	}
}

var (
	appConfig     AppConfig
	appConfigOnce sync.Once
	appConfigMu   sync.RWMutex
)

// LoadAppConfig reads operational settings from the given file (if it
// exists), environment variables prefixed RISKCORE_, and finally defaults,
// in viper's usual precedence order. Safe to call once at process start;
// subsequent calls return the cached value via a sync.Once guard.
func LoadAppConfig(path string) (AppConfig, error) {
	var err error
	appConfigOnce.Do(func() {
		v := viper.New()
		def := defaultAppConfig()
		v.SetDefault("backup_directory", def.BackupDirectory)
		v.SetDefault("audit_log_path", def.AuditLogPath)
		v.SetDefault("metrics_addr", def.MetricsAddr)
		v.SetDefault("admin_addr", def.AdminAddr)
		v.SetDefault("log_level", def.LogLevel)
		v.SetDefault("config_path", def.ConfigPath)

		v.SetEnvPrefix("RISKCORE")
		v.AutomaticEnv()

		if path != "" {
			v.SetConfigFile(path)
			if readErr := v.ReadInConfig(); readErr != nil {
				_, notFound := readErr.(viper.ConfigFileNotFoundError)
				if !notFound && !errors.Is(readErr, fs.ErrNotExist) {
					err = fmt.Errorf("riskcfg: reading app config: %w", readErr)
					return
				}
			}
		}

		var cfg AppConfig
		if decodeErr := v.Unmarshal(&cfg); decodeErr != nil {
			err = fmt.Errorf("riskcfg: decoding app config: %w", decodeErr)
			return
		}

		appConfigMu.Lock()
		appConfig = cfg
		appConfigMu.Unlock()
	})
	if err != nil {
		return AppConfig{}, err
	}
	appConfigMu.RLock()
	defer appConfigMu.RUnlock()
	return appConfig, nil
}

// GetAppConfig returns the cached app config, loading defaults if
// LoadAppConfig was never called.
func GetAppConfig() AppConfig {
	appConfigMu.RLock()
	cfg := appConfig
	appConfigMu.RUnlock()
	if cfg == (AppConfig{}) {
		return defaultAppConfig()
	}
	return cfg
}
