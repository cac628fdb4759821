// Package conf handles liferaft configuration. Settings are loaded from
// liferaft.yaml via viper, with environment overrides under the LIFERAFT
// prefix and defaults suitable for a single-node gateway.
package conf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the root configuration document.
type Settings struct {
	App          AppSettings          `mapstructure:"app"`
	Server       ServerSettings       `mapstructure:"server"`
	Update       UpdateSettings       `mapstructure:"update"`
	Storage      StorageSettings      `mapstructure:"storage"`
	Notification NotificationSettings `mapstructure:"notification"`
	Telemetry    TelemetrySettings    `mapstructure:"telemetry"`
}

// AppSettings identifies the application whose caches this gateway owns.
type AppSettings struct {
	// Name prefixes every cache bucket; buckets without the prefix are
	// never touched during activation cleanup.
	Name string `mapstructure:"name"`
	// Generation tags the current cache generation (e.g. "v2").
	Generation string `mapstructure:"generation"`
}

// ServerSettings configures the gateway HTTP listener and the origin it
// proxies to.
type ServerSettings struct {
	Listen      string `mapstructure:"listen"`
	OriginURL   string `mapstructure:"origin_url"`
	ShellPath   string `mapstructure:"shell_path"`
	OfflinePath string `mapstructure:"offline_path"`
}

// UpdateSettings controls the update checker cadence.
type UpdateSettings struct {
	ManifestURL      string   `mapstructure:"manifest_url"`
	CheckInterval    Duration `mapstructure:"check_interval"`
	MinCheckInterval Duration `mapstructure:"min_check_interval"`
	// DeferInitialCheck delays the first automatic check until after the
	// periodic ticker fires, instead of checking immediately on start.
	DeferInitialCheck bool `mapstructure:"defer_initial_check"`
}

// StorageSettings locates the sqlite database holding the bundle asset
// table and persisted checker state.
type StorageSettings struct {
	DatabasePath string `mapstructure:"database_path"`
}

// NotificationSettings configures optional push delivery for
// SHOW_NOTIFICATION messages.
type NotificationSettings struct {
	// PushURLs are shoutrrr service URLs; empty disables push.
	PushURLs []string `mapstructure:"push_urls"`
}

// TelemetrySettings configures error reporting.
type TelemetrySettings struct {
	SentryDSN string `mapstructure:"sentry_dsn"`
}

const (
	defaultCheckInterval    = time.Hour
	defaultMinCheckInterval = 5 * time.Minute
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "liferaft")
	v.SetDefault("app.generation", "v1")
	v.SetDefault("server.listen", "127.0.0.1:8750")
	v.SetDefault("server.shell_path", "/index.html")
	v.SetDefault("server.offline_path", "/offline.html")
	v.SetDefault("update.manifest_url", "/version.json")
	v.SetDefault("update.check_interval", defaultCheckInterval.String())
	v.SetDefault("update.min_check_interval", defaultMinCheckInterval.String())
	v.SetDefault("update.defer_initial_check", false)
	v.SetDefault("storage.database_path", "liferaft.db")
}

// Load reads settings from the named config file, or from the default
// search path when path is empty. A missing config file is not an error;
// defaults and environment overrides apply.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("liferaft")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("liferaft")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/liferaft")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks invariants the rest of the system relies on.
func (s *Settings) Validate() error {
	if s.App.Name == "" {
		return fmt.Errorf("app.name must not be empty")
	}
	if s.App.Generation == "" {
		return fmt.Errorf("app.generation must not be empty")
	}
	if s.Update.MinCheckInterval.Std() < 0 || s.Update.CheckInterval.Std() <= 0 {
		return fmt.Errorf("update intervals must be positive")
	}
	return nil
}
