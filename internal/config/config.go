// Package config содержит логику чтения конфигурации сервиса экоплейт.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации сервиса экоплейт.
type Config struct {
	RunAddress         string `env:"RUN_ADDRESS"`
	DatabaseURI        string `env:"DATABASE_URI"`
	JWTSecret          string `env:"JWT_SECRET"`
	EmissionAPIAddress string `env:"EMISSION_API_ADDRESS"`
	CORSOrigin         string `env:"CORS_ORIGIN"`
}

// Parse считывает конфигурацию из .env-файла, переменных окружения и флагов
// командной строки. Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	// .env необязателен: в продакшене переменные приходят из окружения.
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envJWTSecret := cfg.JWTSecret
	envEmissionAddress := cfg.EmissionAPIAddress
	envCORSOrigin := cfg.CORSOrigin

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.JWTSecret, "s", "", "secret key for signing access tokens")
	flag.StringVar(&cfg.EmissionAPIAddress, "e", "", "emission factor service address")
	flag.StringVar(&cfg.CORSOrigin, "c", "http://localhost:5173", "allowed CORS origin for the web client")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}
	if envEmissionAddress != "" {
		cfg.EmissionAPIAddress = envEmissionAddress
	}
	if envCORSOrigin != "" {
		cfg.CORSOrigin = envCORSOrigin
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
