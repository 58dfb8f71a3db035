// Package config loads application configuration from environment
// variables. A local .env file is honored when present.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values. Each field corresponds
// to an environment variable; durations are given in seconds in the
// environment.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // HTTP port to listen on

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	JWTSecret string // secret used to verify access tokens

	SeatHoldTTL   time.Duration // selection window for seat holds
	SessionTTL    time.Duration // browsing window for order sessions
	PaymentWindow time.Duration // lease extension while the user is at the gateway

	GatewayTmnCode   string // merchant terminal code at the payment gateway
	GatewaySecret    string // shared HMAC secret for the checksum scheme
	GatewayPayURL    string // gateway payment page URL
	GatewayReturnURL string // browser return URL on our side

	RabbitURL string // AMQP broker URL (optional; mailer falls back to localhost)
}

// Load reads configuration from the environment. Required variables are
// enforced by must(); missing values exit with a fatal log message.
// Optional windows default to the values the reservation core was
// designed around: 5 minute holds, 10 minute sessions, 20 minute payment
// window.
func Load() Config {
	_ = godotenv.Load()
	return Config{
		Env:              must("APP_ENV"),
		Port:             must("APP_PORT"),
		DBUser:           must("DB_USER"),
		DBPass:           os.Getenv("DB_PASS"),
		DBHost:           must("DB_HOST"),
		DBPort:           must("DB_PORT"),
		DBName:           must("DB_NAME"),
		JWTSecret:        must("JWT_SECRET"),
		SeatHoldTTL:      seconds("SEAT_HOLD_TTL_SEC", 300),
		SessionTTL:       seconds("SESSION_TTL_SEC", 600),
		PaymentWindow:    seconds("PAYMENT_WINDOW_TTL_SEC", 1200),
		GatewayTmnCode:   must("VNP_TMN_CODE"),
		GatewaySecret:    must("VNP_HASH_SECRET"),
		GatewayPayURL:    must("VNP_PAY_URL"),
		GatewayReturnURL: must("VNP_RETURN_URL"),
		RabbitURL:        os.Getenv("RABBITMQ_URL"),
	}
}

// must retrieves a required environment variable or exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// seconds reads an integer-seconds variable with a default.
func seconds(key string, def int) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return time.Duration(def) * time.Second
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		log.Fatalf("invalid seconds for %s: %q", key, s)
	}
	return time.Duration(n) * time.Second
}
