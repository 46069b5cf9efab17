package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Database modes. Memory mode serves the seeded demo data set and is also
// the fallback when the Firestore probe fails at startup.
const (
	ModeFirestore = "firestore"
	ModeMemory    = "memory"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	JWT       JWTConfig
	Database  DatabaseConfig
	Firebase  FirebaseConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Power     PowerConfig
}

type ServerConfig struct {
	Port        string
	Host        string
	Environment string
}

type JWTConfig struct {
	Secret                 string
	Expiration             time.Duration
	RefreshTokenExpiration time.Duration
}

type DatabaseConfig struct {
	Mode string
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsPath string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// PowerConfig holds the simulated power-transition delays. The delays exist
// purely for user-perceived realism; tests run with zero.
type PowerConfig struct {
	ShutdownDelay     time.Duration
	StartupDelay      time.Duration
	BatchStartupDelay time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Host:        getEnv("HOST", "0.0.0.0"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		JWT: JWTConfig{
			Secret:                 getEnv("JWT_SECRET", "dev-secret-key"),
			Expiration:             parseDuration(getEnv("JWT_EXPIRATION", "30m"), 30*time.Minute),
			RefreshTokenExpiration: parseDuration(getEnv("REFRESH_TOKEN_EXPIRATION", "168h"), 7*24*time.Hour),
		},
		Database: DatabaseConfig{
			Mode: getEnv("DATABASE_MODE", ModeFirestore),
		},
		Firebase: FirebaseConfig{
			ProjectID:       getEnv("FIREBASE_PROJECT_ID", "labpower-shutdown"),
			CredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", "./serviceAccountKey.json"),
		},
		CORS: CORSConfig{
			AllowedOrigins: parseStringSlice(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
		},
		RateLimit: RateLimitConfig{
			Requests: parseInt(getEnv("RATE_LIMIT_REQUESTS", "100"), 100),
			Window:   parseDuration(getEnv("RATE_LIMIT_WINDOW", "60"), 60*time.Second),
		},
		Power: PowerConfig{
			ShutdownDelay:     parseDuration(getEnv("SHUTDOWN_DELAY", "2s"), 2*time.Second),
			StartupDelay:      parseDuration(getEnv("STARTUP_DELAY", "3s"), 3*time.Second),
			BatchStartupDelay: parseDuration(getEnv("BATCH_STARTUP_DELAY", "5s"), 5*time.Second),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, defaultValue int) int {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	return defaultValue
}

func parseDuration(s string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	// If it's just a number, assume seconds
	if i, err := strconv.Atoi(s); err == nil {
		return time.Duration(i) * time.Second
	}
	return defaultValue
}

func parseStringSlice(s string) []string {
	if s == "" {
		return []string{}
	}
	result := []string{}
	for i := 0; i < len(s); {
		end := i
		for end < len(s) && s[end] != ',' {
			end++
		}
		if i < end {
			result = append(result, s[i:end])
		}
		i = end + 1
	}
	return result
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// Validate checks production-fatal misconfiguration. A missing Firestore
// credential is not fatal: the server degrades to memory mode instead of
// refusing to start.
func (c *Config) Validate() {
	if c.JWT.Secret == "dev-secret-key" && c.IsProduction() {
		log.Fatal("JWT_SECRET must be set in production")
	}
	if c.Database.Mode != ModeFirestore && c.Database.Mode != ModeMemory {
		log.Fatalf("DATABASE_MODE must be %q or %q, got %q", ModeFirestore, ModeMemory, c.Database.Mode)
	}
	if c.Database.Mode == ModeFirestore && c.Firebase.ProjectID == "" {
		log.Fatal("FIREBASE_PROJECT_ID must be set when DATABASE_MODE=firestore")
	}
}
