package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all boot-time configuration for the controller. Runtime
// kiln settings (max safe temp, unit, webhook, API token, ...) are a
// separate, operator-mutable concern persisted through internal/kiln/settings,
// not through this static file.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Pins         PinConfig          `mapstructure:"pins"`
	Thermocouple ThermocoupleConfig `mapstructure:"thermocouple"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Security     SecurityConfig     `mapstructure:"security"`
}

// SecurityConfig holds the passphrase internal/security.TokenCipher derives
// the settings-store encryption key from. There is no usable default: a
// fixed passphrase would make the encrypted API token recoverable by
// reading the binary, so cmd/kilnd refuses to start if this is empty.
type SecurityConfig struct {
	CipherPassphrase string `mapstructure:"cipher_passphrase"`
}

// ServerConfig contains the external façade's HTTP/WS bind settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// JWTSecret signs the short-lived session tokens, required by every
	// protected API route and by /ws, issued by
	// POST /api/v1/auth/token once a caller has proven it holds the
	// KilnSettings API token. It is not the API token itself.
	JWTSecret string `mapstructure:"jwt_secret"`
}

// StorageConfig contains persistence settings. The history deque's size
// is a fixed spec invariant (internal/kiln/history.MaxRecords), not a
// configurable value, so it has no field here.
type StorageConfig struct {
	DBPath   string `mapstructure:"db_path"`
	TraceDir string `mapstructure:"trace_dir"`
}

// PinConfig contains the SSR GPIO pin assignment.
type PinConfig struct {
	SSR int `mapstructure:"ssr"`
}

// ThermocoupleConfig contains MAX31855 SPI bus assignment.
type ThermocoupleConfig struct {
	SPIBus    int `mapstructure:"spi_bus"`
	SPIDevice int `mapstructure:"spi_device"`
	SpeedHz   int `mapstructure:"speed_hz"`
}

// LoggerConfig contains logging settings.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Dir    string `mapstructure:"dir"`
}

// TelemetryConfig contains optional external telemetry sinks. Every field
// is opt-in: an empty broker/addr/URL disables that sink.
type TelemetryConfig struct {
	MQTTBroker        string `mapstructure:"mqtt_broker"`
	MQTTTopic         string `mapstructure:"mqtt_topic"`
	RedisAddr         string `mapstructure:"redis_addr"`
	RedisChannel      string `mapstructure:"redis_channel"`
	InfluxURL         string `mapstructure:"influx_url"`
	InfluxToken       string `mapstructure:"influx_token"`
	InfluxBucket      string `mapstructure:"influx_bucket"`
	InfluxOrg         string `mapstructure:"influx_org"`
	InfluxMeasurement string `mapstructure:"influx_measurement"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("KILND")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.jwt_secret", "")

	v.SetDefault("storage.db_path", "./data/kiln.db")
	v.SetDefault("storage.trace_dir", "./data/traces")

	v.SetDefault("pins.ssr", 18)

	v.SetDefault("thermocouple.spi_bus", 0)
	v.SetDefault("thermocouple.spi_device", 0)
	v.SetDefault("thermocouple.speed_hz", 5_000_000)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.dir", "./logs")

	v.SetDefault("telemetry.mqtt_topic", "kilnd/events")
	v.SetDefault("telemetry.redis_channel", "kilnd:events")
	v.SetDefault("telemetry.influx_measurement", "kilnd_events")
}

func getConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".kilnd")
}
