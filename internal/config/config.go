package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Драйверы канала push-событий
const (
	PushWebSocket = "websocket"
	PushNATS      = "nats"
)

// Источники комментариев
const (
	SourceREST     = "rest"
	SourcePostgres = "postgres"
)

// ConfigEnv переменная окружения с путем к YAML файлу конфигурации
const ConfigEnv = "COMMENTSYNC_CONFIG"

// Config содержит конфигурацию приложения
type Config struct {
	API      APIConfig      `yaml:"api"`
	Push     PushConfig     `yaml:"push"`
	Database DatabaseConfig `yaml:"database"`
	Sync     SyncConfig     `yaml:"sync"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// APIConfig содержит настройки REST API объявлений
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// PushConfig содержит настройки канала push-событий
type PushConfig struct {
	Driver     string `yaml:"driver"`
	URL        string `yaml:"url"`
	NATSPrefix string `yaml:"nats_prefix"`
}

// DatabaseConfig содержит настройки базы данных
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// SyncConfig содержит настройки кэша комментариев
type SyncConfig struct {
	Source       string        `yaml:"source"`
	PageSize     int           `yaml:"page_size"`
	ReplyBatch   int           `yaml:"reply_batch"`
	GCTime       time.Duration `yaml:"gc_time"`
	StaleTime    time.Duration `yaml:"stale_time"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// ServerConfig содержит настройки отладочного HTTP сервера.
// Пустой порт отключает сервер.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

// LogConfig содержит настройки логирования
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8080/api/v1",
			Timeout: 10 * time.Second,
		},
		Push: PushConfig{
			Driver:     PushWebSocket,
			URL:        "ws://localhost:8080/ws",
			NATSPrefix: "comments",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Password: "postgres",
			DBName:   "listings",
			SSLMode:  "disable",
		},
		Sync: SyncConfig{
			Source:       SourceREST,
			PageSize:     15,
			ReplyBatch:   10,
			GCTime:       10 * time.Minute,
			StaleTime:    5 * time.Minute,
			FetchTimeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Host: "localhost",
			Port: "",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load загружает конфигурацию.
// Приоритет: переменные окружения системы > .env файл > YAML файл > значения по умолчанию
func Load(path string) (*Config, error) {
	// .env может отсутствовать
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.API.BaseURL = getEnv("API_BASE_URL", c.API.BaseURL)
	c.Push.Driver = getEnv("PUSH_DRIVER", c.Push.Driver)
	c.Push.URL = getEnv("PUSH_URL", c.Push.URL)
	c.Push.NATSPrefix = getEnv("PUSH_NATS_PREFIX", c.Push.NATSPrefix)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnv("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("DB_NAME", c.Database.DBName)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)

	c.Sync.Source = getEnv("SYNC_SOURCE", c.Sync.Source)
	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnv("SERVER_PORT", c.Server.Port)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	var err error
	if c.API.Timeout, err = getDuration("API_TIMEOUT", c.API.Timeout); err != nil {
		return err
	}
	if c.Sync.GCTime, err = getDuration("SYNC_GC_TIME", c.Sync.GCTime); err != nil {
		return err
	}
	if c.Sync.StaleTime, err = getDuration("SYNC_STALE_TIME", c.Sync.StaleTime); err != nil {
		return err
	}
	if c.Sync.FetchTimeout, err = getDuration("SYNC_FETCH_TIMEOUT", c.Sync.FetchTimeout); err != nil {
		return err
	}
	if c.Sync.PageSize, err = getInt("SYNC_PAGE_SIZE", c.Sync.PageSize); err != nil {
		return err
	}
	if c.Sync.ReplyBatch, err = getInt("SYNC_REPLY_BATCH", c.Sync.ReplyBatch); err != nil {
		return err
	}
	return nil
}

// Validate проверяет согласованность конфигурации
func (c *Config) Validate() error {
	var errs []error

	switch c.Push.Driver {
	case PushWebSocket, PushNATS:
	default:
		errs = append(errs, fmt.Errorf("unknown push driver %q", c.Push.Driver))
	}
	if c.Push.URL == "" {
		errs = append(errs, errors.New("push url is required"))
	}

	switch c.Sync.Source {
	case SourceREST:
		if c.API.BaseURL == "" {
			errs = append(errs, errors.New("api base url is required for rest source"))
		}
	case SourcePostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown comment source %q", c.Sync.Source))
	}

	if c.Sync.PageSize <= 0 {
		errs = append(errs, errors.New("page size must be positive"))
	}
	if c.Sync.ReplyBatch <= 0 {
		errs = append(errs, errors.New("reply batch must be positive"))
	}
	if c.Sync.GCTime < 0 {
		errs = append(errs, errors.New("gc time cannot be negative"))
	}
	if c.Sync.StaleTime < 0 {
		errs = append(errs, errors.New("stale time cannot be negative"))
	}
	if c.Sync.FetchTimeout < 0 {
		errs = append(errs, errors.New("fetch timeout cannot be negative"))
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// DSN возвращает строку подключения к PostgreSQL
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Addr возвращает адрес отладочного сервера или пустую строку
func (c *ServerConfig) Addr() string {
	if c.Port == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
