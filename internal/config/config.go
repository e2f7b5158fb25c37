package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis change-stream (optional; in-process notifier when empty)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// AMQP event publishing (optional; disabled when empty)
	AMQPURL string

	// Code generation
	CodeAlphabet string
	CodeLength   int
	CodePrefix   string

	// Operator auth
	JWTSecret        string
	JWTAccessExpiry  time.Duration
	JWTRefreshExpiry time.Duration
	SetupToken       string

	// Automatic issuance channel
	PurchaseToken string

	// Outbound mail
	SMTPHost    string
	SMTPPort    string
	SMTPUser    string
	SMTPPass    string
	MailFrom    string
	MailWorkers int

	// Server
	Port        string
	CORSOrigins string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "license_db"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       parseInt(getEnv("REDIS_DB", "0"), 0),

		AMQPURL: getEnv("AMQP_URL", ""),

		CodeAlphabet: getEnv("CODE_ALPHABET", "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"),
		CodeLength:   parseInt(getEnv("CODE_LENGTH", "16"), 16),
		CodePrefix:   getEnv("CODE_PREFIX", "L"),

		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTAccessExpiry:  parseDuration(getEnv("JWT_ACCESS_EXPIRY", "15m")),
		JWTRefreshExpiry: parseDuration(getEnv("JWT_REFRESH_EXPIRY", "168h")),
		SetupToken:       getEnv("SETUP_TOKEN", ""),

		PurchaseToken: getEnv("PURCHASE_TOKEN", ""),

		SMTPHost:    getEnv("SMTP_HOST", ""),
		SMTPPort:    getEnv("SMTP_PORT", "587"),
		SMTPUser:    getEnv("SMTP_USER", ""),
		SMTPPass:    getEnv("SMTP_PASSWORD", ""),
		MailFrom:    getEnv("MAIL_FROM", ""),
		MailWorkers: parseInt(getEnv("MAIL_WORKERS", "5"), 5),

		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),
	}
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}
