// Package config provides layered configuration loading for the daemon:
// defaults, then an optional file, then AGOR_-prefixed environment variables.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every configuration section the daemon needs to boot.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Unix     UnixConfig     `mapstructure:"unix"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	MCP      MCPConfig      `mapstructure:"mcp"`
	Agent    AgentConfig    `mapstructure:"agent"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig selects and configures the Repository backend.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite | postgres
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
}

// NATSConfig configures the optional cross-process event bus.
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// UnixConfig configures identity allocation and Unix-level isolation (C1, C2).
type UnixConfig struct {
	UIDRangeMin       int    `mapstructure:"uidRangeMin"`
	UIDRangeMax       int    `mapstructure:"uidRangeMax"`
	HomeBase          string `mapstructure:"homeBase"`
	AgorGroup         string `mapstructure:"agorGroup"`
	AutoManageSymlink bool   `mapstructure:"autoManageSymlinks"`
}

// SecretsConfig configures the encryption boundary (C3).
type SecretsConfig struct {
	MasterKeyEnv string `mapstructure:"masterKeyEnv"` // env var holding the base64 master key
}

// MCPConfig configures the MCP resolver (C4).
type MCPConfig struct {
	RemoteShimPath    string `mapstructure:"remoteShimPath"`
	SelfAccessEnabled bool   `mapstructure:"selfAccessEnabled"`
}

// AgentConfig configures agent spawning defaults (C6).
type AgentConfig struct {
	IdleTimeout                time.Duration `mapstructure:"idleTimeout"`
	ResumeStalenessThreshold   time.Duration `mapstructure:"resumeStalenessThreshold"`
	TerminationGracePeriod     time.Duration `mapstructure:"terminationGracePeriod"`
}

// Load builds a Config from defaults, an optional file at path (skipped if
// empty or not found), and AGOR_-prefixed environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8420)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "agor.db")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("unix.uidRangeMin", 10000)
	v.SetDefault("unix.uidRangeMax", 60000)
	v.SetDefault("unix.homeBase", "/home")
	v.SetDefault("unix.agorGroup", "agor_users")
	v.SetDefault("unix.autoManageSymlinks", true)

	v.SetDefault("secrets.masterKeyEnv", "AGOR_MASTER_KEY")

	v.SetDefault("mcp.remoteShimPath", "mcp-remote")
	v.SetDefault("mcp.selfAccessEnabled", true)

	v.SetDefault("agent.idleTimeout", 30*time.Second)
	v.SetDefault("agent.resumeStalenessThreshold", 24*time.Hour)
	v.SetDefault("agent.terminationGracePeriod", 5*time.Second)
}
