// Package config содержит логику чтения конфигурации сервиса IttrKart.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации сервиса IttrKart.
type Config struct {
	RunAddress        string `env:"RUN_ADDRESS"`
	DatabaseURI       string `env:"DATABASE_URI"`
	JWTSecret         string `env:"JWT_SECRET"`
	BaseURL           string `env:"BASE_URL"`
	PaymentAPIAddress string `env:"PAYMENT_API_ADDRESS"`
	PaymentAPIKey     string `env:"PAYMENT_API_KEY"`
	MailAPIAddress    string `env:"MAIL_API_ADDRESS"`
	MailAPIKey        string `env:"MAIL_API_KEY"`
	MailSender        string `env:"MAIL_SENDER"`
	FulfillmentEmail  string `env:"FULFILLMENT_EMAIL"`
	UploadDir         string `env:"UPLOAD_DIR"`
}

// Parse считывает конфигурацию из файла .env, переменных окружения и
// флагов командной строки. Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envBaseURL := cfg.BaseURL
	envUploadDir := cfg.UploadDir

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.BaseURL, "b", "https://ittrkart.vercel.app", "base URL for links in emails and redirects")
	flag.StringVar(&cfg.UploadDir, "u", "images", "directory for uploaded files")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envBaseURL != "" {
		cfg.BaseURL = envBaseURL
	}
	if envUploadDir != "" {
		cfg.UploadDir = envUploadDir
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "ittrkart-secret"
	}

	return cfg, nil
}
