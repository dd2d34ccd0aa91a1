package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"tokenledger/pkg/units"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "TOKENLEDGER"

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Events   EventsConfig   `mapstructure:"events"`
	Business BusinessConfig `mapstructure:"business"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LedgerConfig 创世时创建的代币
type LedgerConfig struct {
	Name                string `mapstructure:"name"`
	Symbol              string `mapstructure:"symbol"`
	Decimals            int32  `mapstructure:"decimals"`
	TotalSupply         string `mapstructure:"total_supply"` // 整数枚代币，不含精度
	Owner               string `mapstructure:"owner"`
	RejectZeroRecipient bool   `mapstructure:"reject_zero_recipient"`
	EventLogLimit       int    `mapstructure:"event_log_limit"` // 内存中保留的事件数
}

// SupplyBaseUnits 总供应量乘以 10^decimals
func (c LedgerConfig) SupplyBaseUnits() (*uint256.Int, error) {
	return units.ParseUnits(c.TotalSupply, c.Decimals)
}

func (c LedgerConfig) OwnerAddress() (common.Address, error) {
	return units.ParseAddress(c.Owner)
}

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Path         string `mapstructure:"path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

type RedisConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Password        string `mapstructure:"password"`
	DB              int    `mapstructure:"db"`
	LeaseTTLSeconds int    `mapstructure:"lease_ttl_seconds"`
	LeaseRetries    int    `mapstructure:"lease_retries"` // 每轮获取租约的重试次数
}

func (c RedisConfig) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSeconds) * time.Second
}

const (
	BrokerKafka = "kafka"
	BrokerAMQP  = "amqp"
	BrokerNone  = "none"
)

type EventsConfig struct {
	Broker string      `mapstructure:"broker"`
	Kafka  KafkaConfig `mapstructure:"kafka"`
	AMQP   AMQPConfig  `mapstructure:"amqp"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
	Queue    string `mapstructure:"queue"`
}

// Topic 写入本地消息表的目标名称
func (c EventsConfig) Topic() string {
	if c.Broker == BrokerAMQP {
		return c.AMQP.Queue
	}
	return c.Kafka.Topic
}

type BusinessConfig struct {
	OutboxIntervalMs         int `mapstructure:"outbox_interval_ms"`
	OutboxBatchSize          int `mapstructure:"outbox_batch_size"`
	MaxRetryCount            int `mapstructure:"max_retry_count"`
	ReconcileIntervalSeconds int `mapstructure:"reconcile_interval_seconds"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("ledger.name", "LuxeCoin")
	v.SetDefault("ledger.symbol", "LUXE")
	v.SetDefault("ledger.decimals", 18)
	v.SetDefault("ledger.total_supply", "220000000")
	v.SetDefault("ledger.owner", "")
	v.SetDefault("ledger.reject_zero_recipient", false)
	v.SetDefault("ledger.event_log_limit", 10000)
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "")
	v.SetDefault("database.log_sql", false)
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "./data/tokenledger.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lease_ttl_seconds", 15)
	v.SetDefault("redis.lease_retries", 3)
	v.SetDefault("events.broker", BrokerNone)
	v.SetDefault("events.kafka.brokers", []string{})
	v.SetDefault("events.kafka.topic", "token.transfer")
	v.SetDefault("events.amqp.url", "")
	v.SetDefault("events.amqp.exchange", "tokenledger")
	v.SetDefault("events.amqp.queue", "token.transfer")
	v.SetDefault("business.outbox_interval_ms", 100)
	v.SetDefault("business.outbox_batch_size", 100)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.reconcile_interval_seconds", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig 加载配置文件
// 先加载工作目录下的 .env（如果存在），TOKENLEDGER_* 环境变量覆盖文件中的配置
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d: must be between 1 and 65535", c.Server.Port)
	}
	if err := c.Ledger.validate(); err != nil {
		return err
	}
	if err := c.Database.validate(); err != nil {
		return err
	}
	if c.Redis.Host != "" && c.Redis.LeaseTTLSeconds < 3 {
		return fmt.Errorf("invalid redis lease ttl %ds: must be at least 3", c.Redis.LeaseTTLSeconds)
	}
	if c.Redis.Host != "" && c.Redis.LeaseRetries <= 0 {
		return fmt.Errorf("invalid redis lease retries %d: must be positive", c.Redis.LeaseRetries)
	}
	if err := c.Events.validate(); err != nil {
		return err
	}
	if c.Business.OutboxBatchSize <= 0 {
		return fmt.Errorf("invalid outbox batch size %d: must be positive", c.Business.OutboxBatchSize)
	}
	if c.Business.OutboxIntervalMs <= 0 {
		return fmt.Errorf("invalid outbox interval %dms: must be positive", c.Business.OutboxIntervalMs)
	}
	if c.Business.MaxRetryCount <= 0 {
		return fmt.Errorf("invalid max retry count %d: must be positive", c.Business.MaxRetryCount)
	}
	if c.Business.ReconcileIntervalSeconds <= 0 {
		return fmt.Errorf("invalid reconcile interval %ds: must be positive", c.Business.ReconcileIntervalSeconds)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format '%s': must be one of [json console]", c.Log.Format)
	}
	return nil
}

func (c LedgerConfig) validate() error {
	if c.Symbol == "" {
		return errors.New("ledger symbol is required")
	}
	if _, err := c.SupplyBaseUnits(); err != nil {
		return fmt.Errorf("invalid ledger total supply: %w", err)
	}
	owner, err := c.OwnerAddress()
	if err != nil {
		return fmt.Errorf("invalid ledger owner: %w", err)
	}
	if owner == (common.Address{}) {
		return errors.New("invalid ledger owner: zero address")
	}
	if c.EventLogLimit < 0 {
		return fmt.Errorf("invalid ledger event log limit %d: must not be negative", c.EventLogLimit)
	}
	return nil
}

func (c DatabaseConfig) validate() error {
	switch c.Driver {
	case DriverMySQL:
		if c.Host == "" || c.Database == "" {
			return errors.New("mysql driver requires host and database")
		}
	case DriverSQLite:
		if c.Path == "" {
			return errors.New("sqlite driver requires a database path")
		}
	default:
		return fmt.Errorf("invalid database driver '%s': must be one of [mysql sqlite]", c.Driver)
	}
	return nil
}

func (c EventsConfig) validate() error {
	switch c.Broker {
	case BrokerNone:
	case BrokerKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return errors.New("kafka broker requires brokers and topic")
		}
	case BrokerAMQP:
		if c.AMQP.URL == "" || c.AMQP.Exchange == "" || c.AMQP.Queue == "" {
			return errors.New("amqp broker requires url, exchange and queue")
		}
	default:
		return fmt.Errorf("invalid events broker '%s': must be one of [kafka amqp none]", c.Broker)
	}
	return nil
}
