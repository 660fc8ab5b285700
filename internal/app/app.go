package app

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr               string
	DatabaseURL        string
	SessionLifetime    time.Duration
	ResetTokenLifetime time.Duration
	RequestTimeout     time.Duration
	PostsPerPage       int
	LogLevel           string
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() Config {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	return Config{
		Addr:               getenv("ADDR", ":8080"),
		DatabaseURL:        getenv("DATABASE_URL", "./microblog.db"),
		SessionLifetime:    time.Duration(getenvInt("SESSION_LIFETIME_HOURS", 24)) * time.Hour,
		ResetTokenLifetime: time.Duration(getenvInt("RESET_TOKEN_LIFETIME_MINUTES", 60)) * time.Minute,
		RequestTimeout:     time.Duration(getenvInt("REQUEST_TIMEOUT_SECONDS", 5)) * time.Second,
		PostsPerPage:       getenvInt("POSTS_PER_PAGE", 10),
		LogLevel:           getenv("LOG_LEVEL", "info"),
	}
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(k string, def int) int {
	v, err := strconv.Atoi(os.Getenv(k))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func Must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
