package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Node captures process-level configuration. Values come from the
// environment so main stays lean; defaults suit local development.
type Node struct {
	Addr string

	PostgresDSN  string
	RedisURL     string
	KafkaBrokers []string
	AuditTopic   string

	S3Bucket string
	S3Region string

	JWTSigningKey string
	NodeKeySeed   string // hex, 32 bytes; generated when empty

	Blockchain            string
	BlockchainNetwork     string
	RequiredConfirmations int

	HandshakeTimeout  time.Duration
	SealGracePeriod   time.Duration
	ReconcileInterval time.Duration
	SealBatchLimit    int

	DeliveryBatchSize int
	DeliveryBudget    time.Duration
	WebhookTimeout    time.Duration
}

// FromEnv builds a Node config from environment variables.
func FromEnv() Node {
	return Node{
		Addr: envStr("SEALWIRE_ADDR", ":8080"),

		PostgresDSN:  os.Getenv("SEALWIRE_POSTGRES_DSN"),
		RedisURL:     os.Getenv("SEALWIRE_REDIS_URL"),
		KafkaBrokers: envList("SEALWIRE_KAFKA_BROKERS"),
		AuditTopic:   envStr("SEALWIRE_AUDIT_TOPIC", "sealwire.audit"),

		S3Bucket: os.Getenv("SEALWIRE_S3_BUCKET"),
		S3Region: envStr("SEALWIRE_S3_REGION", "us-east-1"),

		// Default for development - must be overridden in production.
		JWTSigningKey: envStr("SEALWIRE_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		NodeKeySeed:   os.Getenv("SEALWIRE_NODE_KEY_SEED"),

		Blockchain:            envStr("SEALWIRE_BLOCKCHAIN", "bitcoin"),
		BlockchainNetwork:     envStr("SEALWIRE_BLOCKCHAIN_NETWORK", "testnet"),
		RequiredConfirmations: envInt("SEALWIRE_CONFIRMATIONS", 10),

		HandshakeTimeout:  envDuration("SEALWIRE_HANDSHAKE_TIMEOUT", 5*time.Minute),
		SealGracePeriod:   envDuration("SEALWIRE_SEAL_GRACE_PERIOD", 6*time.Hour),
		ReconcileInterval: envDuration("SEALWIRE_RECONCILE_INTERVAL", time.Minute),
		SealBatchLimit:    envInt("SEALWIRE_SEAL_BATCH_LIMIT", 50),

		DeliveryBatchSize: envInt("SEALWIRE_DELIVERY_BATCH_SIZE", 20),
		DeliveryBudget:    envDuration("SEALWIRE_DELIVERY_BUDGET", 25*time.Second),
		WebhookTimeout:    envDuration("SEALWIRE_WEBHOOK_TIMEOUT", 10*time.Second),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
