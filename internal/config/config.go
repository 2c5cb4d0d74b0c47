package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DatabaseURL    string          `mapstructure:"database_url"`
	ServerPort     string          `mapstructure:"server_port"`
	JWTSecret      string          `mapstructure:"jwt_secret"`
	AllowedOrigins []string        `mapstructure:"allowed_origins"`
	Email          EmailConfig     `mapstructure:"email"`
	Realtime       RealtimeConfig  `mapstructure:"realtime"`
	Retention      RetentionConfig `mapstructure:"retention"`
	Temporal       TemporalConfig  `mapstructure:"temporal"`
	Client         ClientConfig    `mapstructure:"client"`
}

type EmailConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	From            string   `mapstructure:"from"`
	SMTPHost        string   `mapstructure:"smtp_host"`
	SMTPPort        int      `mapstructure:"smtp_port"`
	Username        string   `mapstructure:"username"`
	Password        string   `mapstructure:"password"`
	AlertRecipients []string `mapstructure:"alert_recipients"`
	MinPriority     string   `mapstructure:"min_priority"`
}

type RealtimeConfig struct {
	// Simulate replaces the WebSocket channel with the in-process generator.
	Simulate            bool          `mapstructure:"simulate"`
	SimulateInterval    time.Duration `mapstructure:"simulate_interval"`
	SimulateProbability float64       `mapstructure:"simulate_probability"`
	PingInterval        time.Duration `mapstructure:"ping_interval"`
	MaxReconnectDelay   time.Duration `mapstructure:"max_reconnect_delay"`
}

type RetentionConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Schedule   string `mapstructure:"schedule"`
	MaxPerUser int    `mapstructure:"max_per_user"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
}

// ClientConfig configures the inbox console.
type ClientConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	UserID         string        `mapstructure:"user_id"`
	Roles          []string      `mapstructure:"roles"`
	ToastAutoHide  time.Duration `mapstructure:"toast_auto_hide"`
	DesktopTimeout time.Duration `mapstructure:"desktop_timeout"`
	MaxHistory     int           `mapstructure:"max_history"`
	SoundEnabled   bool          `mapstructure:"sound_enabled"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
// Every key can be overridden with a NOTIFY_ prefixed environment variable,
// e.g. NOTIFY_DATABASE_URL or NOTIFY_CLIENT_TOKEN.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("notify")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Fatalf("Error reading config file: %v", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	return &config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_port", "8080")
	v.SetDefault("allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.min_priority", "urgent")

	v.SetDefault("realtime.simulate_interval", 30*time.Second)
	v.SetDefault("realtime.simulate_probability", 0.3)
	v.SetDefault("realtime.ping_interval", 30*time.Second)
	v.SetDefault("realtime.max_reconnect_delay", 30*time.Second)

	v.SetDefault("retention.schedule", "0 * * * *")
	v.SetDefault("retention.max_per_user", 500)

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")

	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.toast_auto_hide", 6*time.Second)
	v.SetDefault("client.desktop_timeout", 5*time.Second)
	v.SetDefault("client.max_history", 200)
	v.SetDefault("client.sound_enabled", true)
}

// RequireServer validates the settings the API server cannot start without.
func (c *Config) RequireServer() {
	if c.DatabaseURL == "" {
		log.Fatal("database_url must be set")
	}
	if c.JWTSecret == "" {
		log.Fatal("JWT secret must be set in the config file")
	}
}
