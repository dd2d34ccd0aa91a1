package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOwner = "0x627306090abaB3A6e1400e9345bC60c78a8BEf57"

func validConfig() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Ledger: LedgerConfig{
			Name:        "LuxeCoin",
			Symbol:      "LUXE",
			Decimals:    18,
			TotalSupply: "220000000",
			Owner:       testOwner,
		},
		Database: DatabaseConfig{Driver: DriverSQLite, Path: "./test.db"},
		Events:   EventsConfig{Broker: BrokerNone},
		Business: BusinessConfig{
			OutboxIntervalMs:         100,
			OutboxBatchSize:          10,
			MaxRetryCount:            3,
			ReconcileIntervalSeconds: 30,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		errorString string
	}{
		{
			name:   "valid sqlite config",
			mutate: func(c *Config) {},
		},
		{
			name: "valid mysql with kafka",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Driver: DriverMySQL, Host: "localhost", Database: "ledger"}
				c.Events = EventsConfig{Broker: BrokerKafka, Kafka: KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}}
			},
		},
		{
			name:        "port out of range",
			mutate:      func(c *Config) { c.Server.Port = 70000 },
			errorString: "invalid server port 70000: must be between 1 and 65535",
		},
		{
			name:        "missing symbol",
			mutate:      func(c *Config) { c.Ledger.Symbol = "" },
			errorString: "ledger symbol is required",
		},
		{
			name:        "negative supply",
			mutate:      func(c *Config) { c.Ledger.TotalSupply = "-1" },
			errorString: "invalid ledger total supply",
		},
		{
			name:        "supply finer than decimals",
			mutate:      func(c *Config) { c.Ledger.TotalSupply = "1.5"; c.Ledger.Decimals = 0 },
			errorString: "invalid ledger total supply",
		},
		{
			name:        "malformed owner",
			mutate:      func(c *Config) { c.Ledger.Owner = "0x1234" },
			errorString: "invalid ledger owner",
		},
		{
			name:        "zero owner",
			mutate:      func(c *Config) { c.Ledger.Owner = "0x0000000000000000000000000000000000000000" },
			errorString: "invalid ledger owner: zero address",
		},
		{
			name:        "unknown driver",
			mutate:      func(c *Config) { c.Database.Driver = "postgres" },
			errorString: "invalid database driver 'postgres': must be one of [mysql sqlite]",
		},
		{
			name:        "mysql without host",
			mutate:      func(c *Config) { c.Database = DatabaseConfig{Driver: DriverMySQL, Database: "ledger"} },
			errorString: "mysql driver requires host and database",
		},
		{
			name:        "kafka without brokers",
			mutate:      func(c *Config) { c.Events = EventsConfig{Broker: BrokerKafka, Kafka: KafkaConfig{Topic: "t"}} },
			errorString: "kafka broker requires brokers and topic",
		},
		{
			name:        "amqp without url",
			mutate:      func(c *Config) { c.Events = EventsConfig{Broker: BrokerAMQP, AMQP: AMQPConfig{Exchange: "x", Queue: "q"}} },
			errorString: "amqp broker requires url, exchange and queue",
		},
		{
			name:        "unknown broker",
			mutate:      func(c *Config) { c.Events.Broker = "nats" },
			errorString: "invalid events broker 'nats': must be one of [kafka amqp none]",
		},
		{
			name:        "short lease",
			mutate:      func(c *Config) { c.Redis = RedisConfig{Host: "localhost", LeaseTTLSeconds: 1} },
			errorString: "invalid redis lease ttl 1s: must be at least 3",
		},
		{
			name:        "lease without retries",
			mutate:      func(c *Config) { c.Redis = RedisConfig{Host: "localhost", LeaseTTLSeconds: 15} },
			errorString: "invalid redis lease retries 0: must be positive",
		},
		{
			name:        "negative event log limit",
			mutate:      func(c *Config) { c.Ledger.EventLogLimit = -1 },
			errorString: "invalid ledger event log limit -1: must not be negative",
		},
		{
			name:        "zero batch size",
			mutate:      func(c *Config) { c.Business.OutboxBatchSize = 0 },
			errorString: "invalid outbox batch size 0: must be positive",
		},
		{
			name:        "bad log format",
			mutate:      func(c *Config) { c.Log.Format = "xml" },
			errorString: "invalid log format 'xml': must be one of [json console]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errorString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorString)
		})
	}
}

func TestLedgerConfig_SupplyBaseUnits(t *testing.T) {
	cfg := validConfig()
	supply, err := cfg.Ledger.SupplyBaseUnits()
	require.NoError(t, err)
	assert.Equal(t, "220000000000000000000000000", supply.Dec())
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
ledger:
  symbol: LUXE
  decimals: 18
  total_supply: "220000000"
  owner: "` + testOwner + `"
database:
  driver: sqlite
  path: ` + filepath.Join(dir, "ledger.db") + `
events:
  broker: kafka
  kafka:
    brokers: ["localhost:9092"]
    topic: token.transfer
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("TOKENLEDGER_SERVER_PORT", "9191")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "LUXE", cfg.Ledger.Symbol)
	assert.Equal(t, int32(18), cfg.Ledger.Decimals)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Events.Kafka.Brokers)
	assert.Equal(t, "token.transfer", cfg.Events.Topic())
	assert.Equal(t, 100, cfg.Business.OutboxBatchSize)
	assert.Equal(t, 10000, cfg.Ledger.EventLogLimit)
	assert.Equal(t, 3, cfg.Redis.LeaseRetries)
	assert.Equal(t, "json", cfg.Log.Format)

	owner, err := cfg.Ledger.OwnerAddress()
	require.NoError(t, err)
	assert.Equal(t, testOwner, owner.Hex())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
