// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"can-bridge-service/pkg/driver"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Bridge   BridgeConfig   `mapstructure:"bridge"`
	App      AppConfig      `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host" validate:"required"`
	Port         string        `mapstructure:"port" validate:"required"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLS          TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	AutoMigrate    bool          `mapstructure:"auto_migrate"`
	MigrationsPath string        `mapstructure:"migrations_path"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	DBName         string        `mapstructure:"dbname"`
	SSLMode        string        `mapstructure:"sslmode"`
	MaxOpenConns   int           `mapstructure:"max_open_conns"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"required"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// BridgeConfig represents bridge communication settings
type BridgeConfig struct {
	WorkerPoolSize      int           `mapstructure:"worker_pool_size"`
	OperationTimeout    time.Duration `mapstructure:"operation_timeout"`
	QueueWaitTimeout    time.Duration `mapstructure:"queue_wait_timeout"`
	RequireConfirmation bool          `mapstructure:"require_confirmation"`
	DefaultModel        string        `mapstructure:"default_model"`
	HostMode            string        `mapstructure:"host_mode"`
	HostCANBaudRate     int           `mapstructure:"host_can_baud_rate"`
	Timing              TimingConfig  `mapstructure:"timing"`
	DefaultPorts        PortConfig    `mapstructure:"default_ports"`

	// Operation history housekeeping
	OperationRetention time.Duration `mapstructure:"operation_retention"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
}

// TimingConfig holds the AT protocol waits
type TimingConfig struct {
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	ProbeSettle  time.Duration `mapstructure:"probe_settle"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	SectionDelay time.Duration `mapstructure:"section_delay"`
	CommandDelay time.Duration `mapstructure:"command_delay"`
	SaveDelay    time.Duration `mapstructure:"save_delay"`
	ResetDelay   time.Duration `mapstructure:"reset_delay"`
	EscapeSettle time.Duration `mapstructure:"escape_settle"`
	RestartDelay time.Duration `mapstructure:"restart_delay"`
	SwitchRead   time.Duration `mapstructure:"switch_read"`
}

// PortConfig represents default connection parameters
type PortConfig struct {
	Serial SerialPortConfig `mapstructure:"serial"`
	TCP    TCPPortConfig    `mapstructure:"tcp"`
	USB    USBPortConfig    `mapstructure:"usb"`
}

// SerialPortConfig represents serial port configuration
type SerialPortConfig struct {
	BaudRate    int           `mapstructure:"baud_rate"`
	DataBits    int           `mapstructure:"data_bits"`
	StopBits    int           `mapstructure:"stop_bits"`
	Parity      string        `mapstructure:"parity"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// TCPPortConfig represents TCP port configuration
type TCPPortConfig struct {
	Port           int           `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	KeepAlive      bool          `mapstructure:"keep_alive"`
}

// USBPortConfig represents USB port configuration
type USBPortConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	Config      int           `mapstructure:"config"`
	Interface   int           `mapstructure:"interface"`
	InEndpoint  int           `mapstructure:"in_endpoint"`
	OutEndpoint int           `mapstructure:"out_endpoint"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required"`
	Debug       bool   `mapstructure:"debug"`
}

// Load loads configuration from file and environment variables. A missing
// config file is not an error; defaults and environment apply.
func Load() (*Config, error) {
	return LoadFrom(".", "./configs", "../../configs")
}

// LoadFrom loads configuration searching the given directories
func LoadFrom(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	// Environment variable support
	v.SetEnvPrefix("CAN_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8086")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.tls.enabled", false)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "can_bridge")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_lifetime", "5m")

	// Security defaults
	v.SetDefault("security.allowed_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Bridge defaults
	v.SetDefault("bridge.worker_pool_size", 4)
	v.SetDefault("bridge.operation_timeout", "60s")
	v.SetDefault("bridge.queue_wait_timeout", "5s")
	v.SetDefault("bridge.require_confirmation", false)
	v.SetDefault("bridge.default_model", "RS232/485/422-TO-CAN")
	v.SetDefault("bridge.host_mode", "transparent")
	v.SetDefault("bridge.host_can_baud_rate", 500000)
	v.SetDefault("bridge.operation_retention", "720h")
	v.SetDefault("bridge.cleanup_interval", "1h")

	// Bridge timing defaults
	timing := driver.DefaultTiming()
	v.SetDefault("bridge.timing.probe_timeout", timing.ProbeTimeout)
	v.SetDefault("bridge.timing.probe_settle", timing.ProbeSettle)
	v.SetDefault("bridge.timing.read_timeout", timing.ReadTimeout)
	v.SetDefault("bridge.timing.poll_interval", timing.PollInterval)
	v.SetDefault("bridge.timing.section_delay", timing.SectionDelay)
	v.SetDefault("bridge.timing.command_delay", timing.CommandDelay)
	v.SetDefault("bridge.timing.save_delay", timing.SaveDelay)
	v.SetDefault("bridge.timing.reset_delay", timing.ResetDelay)
	v.SetDefault("bridge.timing.escape_settle", timing.EscapeSettle)
	v.SetDefault("bridge.timing.restart_delay", timing.RestartDelay)
	v.SetDefault("bridge.timing.switch_read", timing.SwitchRead)

	// Bridge port defaults
	v.SetDefault("bridge.default_ports.serial.baud_rate", 115200)
	v.SetDefault("bridge.default_ports.serial.data_bits", 8)
	v.SetDefault("bridge.default_ports.serial.stop_bits", 1)
	v.SetDefault("bridge.default_ports.serial.parity", "N")
	v.SetDefault("bridge.default_ports.serial.read_timeout", "50ms")

	v.SetDefault("bridge.default_ports.tcp.port", 4196)
	v.SetDefault("bridge.default_ports.tcp.connect_timeout", "10s")
	v.SetDefault("bridge.default_ports.tcp.read_timeout", "100ms")
	v.SetDefault("bridge.default_ports.tcp.write_timeout", "5s")
	v.SetDefault("bridge.default_ports.tcp.keep_alive", true)

	v.SetDefault("bridge.default_ports.usb.timeout", "5s")
	v.SetDefault("bridge.default_ports.usb.config", 1)
	v.SetDefault("bridge.default_ports.usb.interface", 0)
	v.SetDefault("bridge.default_ports.usb.in_endpoint", 1)
	v.SetDefault("bridge.default_ports.usb.out_endpoint", 1)

	// App defaults
	v.SetDefault("app.name", "can-bridge-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	// Basic validation
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if config.Database.Enabled && config.Database.Host == "" {
		return fmt.Errorf("database.host is required when the database is enabled")
	}
	if config.Bridge.WorkerPoolSize < 1 {
		return fmt.Errorf("bridge.worker_pool_size must be at least 1")
	}
	if config.Bridge.OperationTimeout <= 0 {
		return fmt.Errorf("bridge.operation_timeout must be positive")
	}
	if config.Bridge.Timing.PollInterval <= 0 {
		return fmt.Errorf("bridge.timing.poll_interval must be positive")
	}

	// Validate environment
	validEnvs := []string{"development", "staging", "production", "test"}
	if !contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	// Validate logging level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	validModes := []string{"transparent", "transparent_id", "format", "modbus"}
	if !contains(validModes, config.Bridge.HostMode) {
		return fmt.Errorf("bridge.host_mode must be one of: %v", validModes)
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}

// DSN returns the PostgreSQL connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}

// DriverTiming converts the timing section for the drivers
func (b BridgeConfig) DriverTiming() driver.Timing {
	t := b.Timing
	return driver.Timing{
		ProbeTimeout: t.ProbeTimeout,
		ProbeSettle:  t.ProbeSettle,
		ReadTimeout:  t.ReadTimeout,
		PollInterval: t.PollInterval,
		SectionDelay: t.SectionDelay,
		CommandDelay: t.CommandDelay,
		SaveDelay:    t.SaveDelay,
		ResetDelay:   t.ResetDelay,
		EscapeSettle: t.EscapeSettle,
		RestartDelay: t.RestartDelay,
		SwitchRead:   t.SwitchRead,
	}
}

// HostDefaults returns the fallback values used when a device never answers
func (b BridgeConfig) HostDefaults(uartBaudRate int) driver.HostDefaults {
	if uartBaudRate == 0 {
		uartBaudRate = b.DefaultPorts.Serial.BaudRate
	}
	return driver.HostDefaults{
		UARTBaudRate: uartBaudRate,
		CANBaudRate:  b.HostCANBaudRate,
		Mode:         b.HostMode,
	}
}

// ConnectionDefaults returns the default connection parameters for a connection type
func (p PortConfig) ConnectionDefaults(connectionType string) map[string]interface{} {
	switch strings.ToUpper(connectionType) {
	case "SERIAL":
		return map[string]interface{}{
			"baud_rate":    p.Serial.BaudRate,
			"data_bits":    p.Serial.DataBits,
			"stop_bits":    p.Serial.StopBits,
			"parity":       p.Serial.Parity,
			"read_timeout": p.Serial.ReadTimeout,
		}
	case "TCP":
		return map[string]interface{}{
			"port":          p.TCP.Port,
			"timeout":       p.TCP.ConnectTimeout,
			"read_timeout":  p.TCP.ReadTimeout,
			"write_timeout": p.TCP.WriteTimeout,
			"keep_alive":    p.TCP.KeepAlive,
		}
	case "USB":
		return map[string]interface{}{
			"timeout":      p.USB.Timeout,
			"config":       p.USB.Config,
			"interface":    p.USB.Interface,
			"in_endpoint":  p.USB.InEndpoint,
			"out_endpoint": p.USB.OutEndpoint,
		}
	default:
		return map[string]interface{}{}
	}
}
