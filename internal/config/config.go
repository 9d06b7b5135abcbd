package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port            string
	MongoDBURI      string
	MongoDBPassword string
	JWTSecret       string
	JWTJwksURL      string
	CacheBackend    string // "memory" or "mongo"
	CacheTTL        time.Duration
	AllowOrigins    []string
	Environment     string
	LogLevel        string
}

func LoadConfig() (*Config, error) {
	ttlSeconds, err := strconv.Atoi(getEnvWithDefault("CACHE_TTL_SECONDS", "60"))
	if err != nil || ttlSeconds <= 0 {
		return nil, fmt.Errorf("CACHE_TTL_SECONDS must be a positive integer")
	}

	cfg := &Config{
		Port:            getEnvWithDefault("PORT", "8080"),
		MongoDBURI:      os.Getenv("MONGODB_URI"),
		MongoDBPassword: os.Getenv("MONGODB_PASSWORD"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		JWTJwksURL:      os.Getenv("JWT_JWKS_URL"),
		CacheBackend:    getEnvWithDefault("CACHE_BACKEND", "memory"),
		CacheTTL:        time.Duration(ttlSeconds) * time.Second,
		AllowOrigins:    strings.Split(getEnvWithDefault("ALLOW_ORIGINS", "http://localhost:3000"), ","),
		Environment:     getEnvWithDefault("ENVIRONMENT", "development"),
		LogLevel:        getEnvWithDefault("LOG_LEVEL", "info"),
	}

	// Validate required fields
	if cfg.MongoDBURI == "" {
		return nil, fmt.Errorf("MONGODB_URI is required")
	}
	if cfg.JWTSecret == "" && cfg.JWTJwksURL == "" {
		return nil, fmt.Errorf("JWT_SECRET or JWT_JWKS_URL is required")
	}
	if cfg.CacheBackend != "memory" && cfg.CacheBackend != "mongo" {
		return nil, fmt.Errorf("CACHE_BACKEND must be \"memory\" or \"mongo\", got %q", cfg.CacheBackend)
	}

	return cfg, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
