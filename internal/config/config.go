// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
)

// Supported values of DB_TYPE.
const (
	DBMemory   = "memory"
	DBPostgres = "postgres"
	DBMongo    = "mongo"
)

// ServerConfig holds all server-related settings
type ServerConfig struct {
	Port           int
	Host           string
	MetricsEnabled bool
	RequestTimeout time.Duration
}

// DatabaseConfig holds database configuration settings
type DatabaseConfig struct {
	Type     string // memory, postgres or mongo
	URI      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// AuthConfig holds token signing settings
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// ChatConfig holds the tunables of the realtime channel and message rules
type ChatConfig struct {
	EventsPerSecond float64
	EventBurst      int
	DeleteWindow    time.Duration
}

// Config holds the complete application configuration
type Config struct {
	Server         *ServerConfig
	Database       *DatabaseConfig
	Auth           *AuthConfig
	Chat           *ChatConfig
	AllowedOrigins []string
	Debug          bool
	LogFile        string
}

// SetDefaults registers every default on v. Flags bound later override them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8080)
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("REQUEST_TIMEOUT", 5*time.Second)

	v.SetDefault("DB_TYPE", DBMemory)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_NAME", "postgres")
	v.SetDefault("DB_SSL_MODE", "require")
	v.SetDefault("MONGODB_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGODB_DATABASE", "gator_chat")

	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_TTL", 24*time.Hour)

	v.SetDefault("ALLOWED_ORIGINS", "*")
	v.SetDefault("DEBUG", false)
	v.SetDefault("LOG_FILE", "")

	v.SetDefault("WS_EVENTS_PER_SECOND", 20.0)
	v.SetDefault("WS_EVENT_BURST", 40)
	v.SetDefault("DELETE_WINDOW", 2*time.Minute)
}

// LoadEnvFile tries the usual .env locations. A missing file is not an error.
func LoadEnvFile() {
	envLocations := []string{
		".env",          // Current directory
		"../../.env",    // Project root when running from cmd/engine
		"../../../.env", // Even higher directory
		filepath.Join(os.Getenv("GOPATH"), "src/gator-chat/.env"),
	}

	for _, location := range envLocations {
		if err := godotenv.Load(location); err == nil {
			jww.DEBUG.Printf("Loaded environment from %s", location)
			return
		}
	}
}

// LoadConfig loads configuration from environment variables and applies defaults
func LoadConfig() (*Config, error) {
	LoadEnvFile()
	v := viper.GetViper()
	SetDefaults(v)
	v.AutomaticEnv()
	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	serverConfig := &ServerConfig{
		Port:           v.GetInt("PORT"),
		Host:           v.GetString("HOST"),
		MetricsEnabled: v.GetBool("METRICS_ENABLED"),
		RequestTimeout: v.GetDuration("REQUEST_TIMEOUT"),
	}
	if serverConfig.Port <= 0 || serverConfig.Port > 65535 {
		return nil, fmt.Errorf("invalid PORT %d", serverConfig.Port)
	}
	if serverConfig.RequestTimeout <= 0 {
		return nil, fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	dbConfig, err := databaseConfig(v)
	if err != nil {
		return nil, err
	}

	authConfig := &AuthConfig{
		JWTSecret: v.GetString("JWT_SECRET"),
		TokenTTL:  v.GetDuration("JWT_TTL"),
	}
	if authConfig.JWTSecret == "" {
		jww.WARN.Println("JWT_SECRET not set, using an insecure development secret")
		authConfig.JWTSecret = "gator-chat-dev-secret"
	}

	chatConfig := &ChatConfig{
		EventsPerSecond: v.GetFloat64("WS_EVENTS_PER_SECOND"),
		EventBurst:      v.GetInt("WS_EVENT_BURST"),
		DeleteWindow:    v.GetDuration("DELETE_WINDOW"),
	}
	if chatConfig.DeleteWindow <= 0 {
		return nil, fmt.Errorf("DELETE_WINDOW must be positive")
	}

	return &Config{
		Server:         serverConfig,
		Database:       dbConfig,
		Auth:           authConfig,
		Chat:           chatConfig,
		AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		Debug:          v.GetBool("DEBUG"),
		LogFile:        v.GetString("LOG_FILE"),
	}, nil
}

func databaseConfig(v *viper.Viper) (*DatabaseConfig, error) {
	dbConfig := &DatabaseConfig{
		Type:    strings.ToLower(v.GetString("DB_TYPE")),
		Port:    v.GetInt("DB_PORT"),
		SSLMode: v.GetString("DB_SSL_MODE"),
	}

	switch dbConfig.Type {
	case DBMemory:
		return dbConfig, nil
	case DBMongo:
		dbConfig.URI = v.GetString("MONGODB_URI")
		dbConfig.Name = v.GetString("MONGODB_DATABASE")
		return dbConfig, nil
	case DBPostgres:
		// Prioritize DATABASE_URL if provided
		if uri := v.GetString("DATABASE_URL"); uri != "" {
			dbConfig.URI = uri
			dbConfig.SSLMode = getSSLModeFromURI(uri)
			return dbConfig, nil
		}

		dbConfig.Host = v.GetString("DB_HOST")
		dbConfig.User = v.GetString("DB_USER")
		if dbConfig.User == "" {
			return nil, fmt.Errorf("DB_USER environment variable is required when DB_TYPE is postgres and DATABASE_URL is not set")
		}
		dbConfig.Password = v.GetString("DB_PASSWORD")
		if dbConfig.Password == "" {
			return nil, fmt.Errorf("DB_PASSWORD environment variable is required when DB_TYPE is postgres and DATABASE_URL is not set")
		}
		dbConfig.Name = v.GetString("DB_NAME")

		dbConfig.URI = fmt.Sprintf(
			"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
			dbConfig.User,
			dbConfig.Password,
			dbConfig.Host,
			dbConfig.Port,
			dbConfig.Name,
			dbConfig.SSLMode,
		)
		return dbConfig, nil
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE %q (want %s, %s or %s)", dbConfig.Type, DBMemory, DBPostgres, DBMongo)
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Helper function to extract sslmode from a DSN, defaults to "require"
func getSSLModeFromURI(uri string) string {
	_, query, ok := strings.Cut(uri, "?")
	if !ok {
		return "require"
	}
	for _, param := range strings.Split(query, "&") {
		if k, val, found := strings.Cut(param, "="); found && k == "sslmode" {
			return val
		}
	}
	return "require"
}
