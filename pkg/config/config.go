package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime configuration for afp-onboarding.
type Config struct {
	ServiceName string
	Env         string
	LogLevel    string

	// Chain
	RPCURL                       string
	Network                      string
	ProductRegistryAddress       string
	MarginAccountRegistryAddress string
	RPCRequestsPerSecond         int
	RPCBurst                     int
	RPCTimeout                   time.Duration

	// Metadata store & exchange
	IPFSAPIURL       string
	IPFSAPIKey       string
	ExchangeURL      string
	ExchangeAPIToken string
	HTTPRetryMax     int

	// ValidateEnvironment names the environment for post-registration validation.
	ValidateEnvironment string

	// Participant registry. All five must be present or the check is disabled.
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string

	// Messaging
	NATSURL       string
	SignerSubject string
	SignerTimeout time.Duration
	EventsSubject string
	EventsStream  string

	// Cache
	RedisAddr        string
	RedisDB          int
	RedisPass        string
	DecimalsCacheTTL time.Duration

	// Secrets
	AWSRegion     string
	AWSSecretName string

	// HTTP API (serve)
	Port             int
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	HTTPBodyLimit    int
}

// Load loads configuration from environment variables and optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServiceName: GetEnv("SERVICE_NAME", "afp-onboarding"),
		Env:         GetEnv("ENV", "dev"),
		LogLevel:    GetEnv("LOG_LEVEL", "info"),

		RPCURL:                       GetEnv("AUTONITY_RPC_URL", ""),
		Network:                      GetEnv("NETWORK", "autonity"),
		ProductRegistryAddress:       GetEnv("PRODUCT_REGISTRY_ADDRESS", ""),
		MarginAccountRegistryAddress: GetEnv("MARGIN_ACCOUNT_REGISTRY_ADDRESS", ""),
		RPCRequestsPerSecond:         GetEnvInt("RPC_REQUESTS_PER_SECOND", 10),
		RPCBurst:                     GetEnvInt("RPC_BURST", 20),
		RPCTimeout:                   GetEnvDuration("RPC_TIMEOUT", 15*time.Second),

		IPFSAPIURL:       GetEnv("IPFS_API_URL", ""),
		IPFSAPIKey:       GetEnv("IPFS_API_KEY", ""),
		ExchangeURL:      GetEnv("EXCHANGE_URL", ""),
		ExchangeAPIToken: GetEnv("EXCHANGE_API_TOKEN", ""),
		HTTPRetryMax:     GetEnvInt("HTTP_RETRY_MAX", 2),

		ValidateEnvironment: GetEnv("VALIDATE_ENVIRONMENT", ""),

		DBHost:     GetEnv("DB_HOST", ""),
		DBPort:     GetEnv("DB_PORT", ""),
		DBName:     GetEnv("DB_NAME", ""),
		DBUser:     GetEnv("DB_USERNAME", ""),
		DBPassword: GetEnv("DB_PWD", ""),

		NATSURL:       GetEnv("NATS_URL", ""),
		SignerSubject: GetEnv("SIGNER_SUBJECT", "cmd.afp.register_product.v1"),
		SignerTimeout: GetEnvDuration("SIGNER_TIMEOUT", 2*time.Minute),
		EventsSubject: GetEnv("EVENTS_SUBJECT", "evt.afp.onboarding"),
		EventsStream:  GetEnv("EVENTS_STREAM", "AFP_ONBOARDING"),

		RedisAddr:        GetEnv("REDIS_ADDR", ""),
		RedisDB:          GetEnvInt("REDIS_DB", 0),
		RedisPass:        GetEnv("REDIS_PASS", ""),
		DecimalsCacheTTL: GetEnvDuration("DECIMALS_CACHE_TTL", 24*time.Hour),

		AWSRegion:     GetEnv("AWS_REGION", "us-east-2"),
		AWSSecretName: GetEnv("AWS_SECRET_NAME", ""),

		Port:             GetEnvInt("PORT", 9040),
		HTTPReadTimeout:  GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout: GetEnvDuration("HTTP_WRITE_TIMEOUT", 3*time.Minute),
		HTTPIdleTimeout:  GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		HTTPBodyLimit:    GetEnvInt("HTTP_BODY_LIMIT", 1*1024*1024),
	}
}

// RequireChain reports an error naming every missing chain setting.
func (c *Config) RequireChain() error {
	var missing []string
	if c.RPCURL == "" {
		missing = append(missing, "AUTONITY_RPC_URL")
	}
	if c.ProductRegistryAddress == "" {
		missing = append(missing, "PRODUCT_REGISTRY_ADDRESS")
	}
	return missingErr(missing)
}

// RequireRegistration reports missing settings needed to register a product.
func (c *Config) RequireRegistration() error {
	var missing []string
	if c.RPCURL == "" {
		missing = append(missing, "AUTONITY_RPC_URL")
	}
	if c.ProductRegistryAddress == "" {
		missing = append(missing, "PRODUCT_REGISTRY_ADDRESS")
	}
	if c.IPFSAPIURL == "" {
		missing = append(missing, "IPFS_API_URL")
	}
	if c.IPFSAPIKey == "" {
		missing = append(missing, "IPFS_API_KEY")
	}
	if c.NATSURL == "" {
		missing = append(missing, "NATS_URL")
	}
	return missingErr(missing)
}

// RequireExchange reports missing settings needed to talk to the exchange.
func (c *Config) RequireExchange() error {
	var missing []string
	if c.ExchangeURL == "" {
		missing = append(missing, "EXCHANGE_URL")
	}
	if c.ExchangeAPIToken == "" {
		missing = append(missing, "EXCHANGE_API_TOKEN")
	}
	return missingErr(missing)
}

func missingErr(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrMissingEnv, missing)
}

// ErrMissingEnv is wrapped by the Require* helpers.
var ErrMissingEnv = errors.New("missing environment variables")
