package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/greymarch/greymarch-server/internal/actor"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Rules    RulesConfig    `mapstructure:"rules"`
}

// ServerConfig holds the listener and session knobs.
type ServerConfig struct {
	HTTPAddress string        `mapstructure:"http_address"`
	LeasePeriod time.Duration `mapstructure:"lease_period"`
	MaxSessions int           `mapstructure:"max_sessions"`
	JournalDir  string        `mapstructure:"journal_dir"`
}

// DatabaseConfig holds the Postgres connection parts.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// DSN renders the config as a pgx connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	AdminPassword         string        `mapstructure:"admin_password"`
	PasswordResetTokenTTL time.Duration `mapstructure:"password_reset_token_ttl"`
}

// RulesConfig carries the table-wide rules knobs.
type RulesConfig struct {
	MinTarget           float64 `mapstructure:"min_target"`
	MaxTarget           float64 `mapstructure:"max_target"`
	CritSuccessDigits   []int   `mapstructure:"crit_success_digits"`
	CritFailureDigits   []int   `mapstructure:"crit_failure_digits"`
	WoundThreshold      int     `mapstructure:"wound_threshold"`
	FatiguePenalty      float64 `mapstructure:"fatigue_penalty"`
	EncumbrancePerMight float64 `mapstructure:"encumbrance_per_might"`
}

// Settings renders the rules section as actor settings.
func (c RulesConfig) Settings() actor.Settings {
	return actor.Settings{
		MinTarget:           c.MinTarget,
		MaxTarget:           c.MaxTarget,
		CritSuccessDigits:   append([]int(nil), c.CritSuccessDigits...),
		CritFailureDigits:   append([]int(nil), c.CritFailureDigits...),
		WoundThreshold:      c.WoundThreshold,
		FatiguePenalty:      c.FatiguePenalty,
		EncumbrancePerMight: c.EncumbrancePerMight,
	}
}

// Load reads the config file at path, layering GREYMARCH_* environment
// variables over it. Defaults cover a local development setup.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GREYMARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := actor.DefaultSettings()

	v.SetDefault("server.http_address", ":8089")
	v.SetDefault("server.lease_period", "5m")
	v.SetDefault("server.max_sessions", 1024)
	v.SetDefault("server.journal_dir", "journals")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "greymarch")
	v.SetDefault("database.password", "greymarch")
	v.SetDefault("database.name", "greymarch")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 8)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("auth.admin_password", "")
	v.SetDefault("auth.password_reset_token_ttl", "15m")

	v.SetDefault("rules.min_target", defaults.MinTarget)
	v.SetDefault("rules.max_target", defaults.MaxTarget)
	v.SetDefault("rules.crit_success_digits", defaults.CritSuccessDigits)
	v.SetDefault("rules.crit_failure_digits", defaults.CritFailureDigits)
	v.SetDefault("rules.wound_threshold", defaults.WoundThreshold)
	v.SetDefault("rules.fatigue_penalty", defaults.FatiguePenalty)
	v.SetDefault("rules.encumbrance_per_might", defaults.EncumbrancePerMight)
}
