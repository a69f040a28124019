package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port         string
	DatabaseURL  string
	KafkaBrokers []string
	KafkaTopic   string
	QuietWindow  time.Duration
}

// Load reads configuration from the environment, after loading a local .env
// file when one exists.
func Load() (*Config, error) {
	godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	debounceMs, err := strconv.Atoi(envOr("DEBOUNCE_MS", "500"))
	if err != nil || debounceMs <= 0 {
		return nil, fmt.Errorf("DEBOUNCE_MS must be a positive integer")
	}

	return &Config{
		Port:         envOr("PORT", "8080"),
		DatabaseURL:  databaseURL,
		KafkaBrokers: strings.Split(envOr("KAFKA_BROKERS", "localhost:9092"), ","),
		KafkaTopic:   envOr("KAFKA_TOPIC", "maquila_closure_changes"),
		QuietWindow:  time.Duration(debounceMs) * time.Millisecond,
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
