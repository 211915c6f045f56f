package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	HTTPPort        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	BackendURL string
	GatewayURL string
	DeviceID   string

	CameraSnapshotURL string
	CaptureFPS        float64
	UploadConcurrency int64
	UploadTimeout     time.Duration

	PairingCooldown     time.Duration
	PairingPollInterval time.Duration

	TaxRate           decimal.Decimal
	Currency          string
	PaymentTimeout    time.Duration
	PaymentMethodWait time.Duration
	LedgerPath        string

	FeedDriver    string
	RedisAddr     string
	RedisPassword string
	KafkaBrokers  []string
	KafkaTopic    string
	MongoURI      string
	MongoDBName   string
}

// Load reads .env (if present) and the process environment.
func Load(files ...string) *Config {
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		log.Printf("failed to load env file: %v", err)
	}

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		RequestTimeout:  getDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		BackendURL: getEnv("BACKEND_URL", "http://localhost:5001"),
		GatewayURL: getEnv("GATEWAY_URL", "http://localhost:5001"),
		DeviceID:   getEnv("DEVICE_ID", ""),

		CameraSnapshotURL: getEnv("CAMERA_SNAPSHOT_URL", "http://localhost:8081/snapshot.jpg"),
		CaptureFPS:        getFloat("CAPTURE_FPS", 12),
		UploadConcurrency: int64(getInt("UPLOAD_CONCURRENCY", 4)),
		UploadTimeout:     getDuration("UPLOAD_TIMEOUT", 2*time.Second),

		PairingCooldown:     getDuration("PAIRING_COOLDOWN", 5*time.Second),
		PairingPollInterval: getDuration("PAIRING_POLL_INTERVAL", 2*time.Second),

		TaxRate:           getDecimal("TAX_RATE", decimal.RequireFromString("0.13")),
		Currency:          strings.ToLower(getEnv("CURRENCY", "cad")),
		PaymentTimeout:    getDuration("PAYMENT_TIMEOUT", 2*time.Minute),
		PaymentMethodWait: getDuration("PAYMENT_METHOD_WAIT", 30*time.Second),
		LedgerPath:        getEnv("LEDGER_PATH", "scancart.db"),

		FeedDriver:    getEnv("FEED_DRIVER", "redis"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		KafkaBrokers:  strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "cart-snapshots"),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:   getEnv("MONGO_DB_NAME", "Inventory"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil || v <= 0 {
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	v, err := decimal.NewFromString(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}
