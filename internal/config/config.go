package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"casinopay/internal/model"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Server         ServerConfig          `mapstructure:"server"`
	Log            LogConfig             `mapstructure:"log"`
	Database       DatabaseConfig        `mapstructure:"database"`
	Redis          RedisConfig           `mapstructure:"redis"`
	Kafka          KafkaConfig           `mapstructure:"kafka"`
	Mongo          MongoConfig           `mapstructure:"mongo"`
	JWT            JWTConfig             `mapstructure:"jwt"`
	Gateway        GatewayConfig         `mapstructure:"gateway"`
	Settlement     SettlementConfig      `mapstructure:"settlement"`
	PaymentMethods []PaymentMethodConfig `mapstructure:"payment_methods"`
}

type ServerConfig struct {
	Port    int    `mapstructure:"port"`
	GinMode string `mapstructure:"gin_mode"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig selects the gorm dialector. DSN wins over the discrete fields when set.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql | postgres | sqlite
	DSN          string `mapstructure:"dsn"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled       bool             `mapstructure:"enabled"`
	Brokers       []string         `mapstructure:"brokers"`
	Topic         KafkaTopicConfig `mapstructure:"topic"`
	MaxRetryCount int              `mapstructure:"max_retry_count"`
}

type KafkaTopicConfig struct {
	SettlementResult string `mapstructure:"settlement_result"`
}

type MongoConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	URI        string        `mapstructure:"uri"`
	Database   string        `mapstructure:"database"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type GatewayConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CallbackURL string        `mapstructure:"callback_url"`
	ReturnURL   string        `mapstructure:"return_url"`
}

type SettlementConfig struct {
	CallbackSecret          string        `mapstructure:"callback_secret"`
	AllowRecentPendingMatch bool          `mapstructure:"allow_recent_pending_match"`
	RecentPendingWindow     time.Duration `mapstructure:"recent_pending_window"`
	StrictChainAlias        bool          `mapstructure:"strict_chain_alias"`
	AmbiguousErrorCodes     []string      `mapstructure:"ambiguous_error_codes"`
	ReconcileEnabled        bool          `mapstructure:"reconcile_enabled"`
	ReconcileInterval       time.Duration `mapstructure:"reconcile_interval"`
	ReconcileAfter          time.Duration `mapstructure:"reconcile_after"`
	ReconcileBatchSize      int           `mapstructure:"reconcile_batch_size"`
	LockTTL                 time.Duration `mapstructure:"lock_ttl"`
}

// PaymentMethodConfig is the YAML form of model.PaymentMethod.
type PaymentMethodConfig struct {
	ID          string   `mapstructure:"id"`
	Kind        string   `mapstructure:"kind"`
	MinDeposit  string   `mapstructure:"min_deposit"`
	MaxDeposit  string   `mapstructure:"max_deposit"`
	MinWithdraw string   `mapstructure:"min_withdraw"`
	MaxWithdraw string   `mapstructure:"max_withdraw"`
	Currencies  []string `mapstructure:"currencies"`
}

// Load reads an optional .env file, then the YAML at configPath, then environment
// overrides (DATABASE_PASSWORD overrides database.password and so on).
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.PaymentMethods) == 0 {
		cfg.PaymentMethods = DefaultPaymentMethods()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.gin_mode", "release")
	v.SetDefault("log.level", "info")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.topic.settlement_result", "settlement_result")
	v.SetDefault("kafka.max_retry_count", 5)

	v.SetDefault("mongo.database", "casinopay")
	v.SetDefault("mongo.collection", "settlement_audit")
	v.SetDefault("mongo.timeout", 10*time.Second)

	v.SetDefault("gateway.timeout", 30*time.Second)

	// empty defaults let JWT_SECRET and SETTLEMENT_CALLBACK_SECRET reach Unmarshal
	v.SetDefault("jwt.secret", "")
	v.SetDefault("settlement.callback_secret", "")
	v.SetDefault("settlement.allow_recent_pending_match", true)
	v.SetDefault("settlement.recent_pending_window", 30*time.Minute)
	v.SetDefault("settlement.ambiguous_error_codes", []string{"PROVIDER_TIMEOUT", "PROVIDER_ERROR"})
	v.SetDefault("settlement.reconcile_enabled", true)
	v.SetDefault("settlement.reconcile_interval", time.Minute)
	v.SetDefault("settlement.reconcile_after", 10*time.Minute)
	v.SetDefault("settlement.reconcile_batch_size", 50)
	v.SetDefault("settlement.lock_ttl", 30*time.Second)
}

func (c *Config) Validate() error {
	if c.Gateway.BaseURL == "" {
		return errors.New("gateway.base_url is required")
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	if c.Settlement.CallbackSecret == "" {
		return errors.New("settlement.callback_secret is required")
	}
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}
	if c.Mongo.Enabled && c.Mongo.URI == "" {
		return errors.New("mongo.uri is required when mongo is enabled")
	}
	if _, err := c.Methods(); err != nil {
		return err
	}
	return nil
}

// Methods converts the configured payment methods into descriptors.
func (c *Config) Methods() ([]model.PaymentMethod, error) {
	methods := make([]model.PaymentMethod, 0, len(c.PaymentMethods))
	for _, pm := range c.PaymentMethods {
		m, err := pm.toModel()
		if err != nil {
			return nil, fmt.Errorf("payment method %q: %w", pm.ID, err)
		}
		methods = append(methods, m)
	}
	return methods, nil
}

func (pm PaymentMethodConfig) toModel() (model.PaymentMethod, error) {
	if pm.ID == "" {
		return model.PaymentMethod{}, errors.New("id is required")
	}
	kind := model.PaymentMethodKind(pm.Kind)
	switch kind {
	case model.KindBankTransfer, model.KindEWallet, model.KindCrypto, model.KindCard:
	default:
		return model.PaymentMethod{}, fmt.Errorf("unknown kind %q", pm.Kind)
	}

	var limits [4]decimal.Decimal
	for i, raw := range []string{pm.MinDeposit, pm.MaxDeposit, pm.MinWithdraw, pm.MaxWithdraw} {
		if raw == "" {
			limits[i] = decimal.Zero
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return model.PaymentMethod{}, fmt.Errorf("bad limit %q: %w", raw, err)
		}
		limits[i] = d
	}

	return model.PaymentMethod{
		ID:          pm.ID,
		Kind:        kind,
		MinDeposit:  limits[0],
		MaxDeposit:  limits[1],
		MinWithdraw: limits[2],
		MaxWithdraw: limits[3],
		Currencies:  pm.Currencies,
	}, nil
}
