package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
)

const envPrefix = "MRT_INGESTER_"

type Config struct {
	Service    ServiceConfig            `koanf:"service"`
	Kafka      KafkaConfig              `koanf:"kafka"`
	Postgres   PostgresConfig           `koanf:"postgres"`
	Ingest     IngestConfig             `koanf:"ingest"`
	Retention  RetentionConfig          `koanf:"retention"`
	Collectors map[string]CollectorMeta `koanf:"collectors"`
}

// CollectorMeta is static metadata for a route collector, keyed by collector name.
type CollectorMeta struct {
	Location    string `koanf:"location"`
	Description string `koanf:"description"`
}

type ServiceConfig struct {
	InstanceID             string `koanf:"instance_id"`
	HTTPListen             string `koanf:"http_listen"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

type KafkaConfig struct {
	Brokers       []string       `koanf:"brokers"`
	ClientID      string         `koanf:"client_id"`
	TLS           TLSConfig      `koanf:"tls"`
	SASL          SASLConfig     `koanf:"sasl"`
	Consumer      ConsumerConfig `koanf:"consumer"`
	Producer      ProducerConfig `koanf:"producer"`
	FetchMaxBytes int32          `koanf:"fetch_max_bytes"`
}

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type SASLConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Mechanism string `koanf:"mechanism"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

type ConsumerConfig struct {
	GroupID string   `koanf:"group_id"`
	Topics  []string `koanf:"topics"`
}

type ProducerConfig struct {
	Topic string `koanf:"topic"`
	// Compression is one of none, gzip, snappy, lz4, zstd.
	Compression string `koanf:"compression"`
	// BatchRecords is the number of MRT records produced per synchronous flush.
	BatchRecords int `koanf:"batch_records"`
}

type PostgresConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
	MinConns int32  `koanf:"min_conns"`
}

type IngestConfig struct {
	// Collector names rows whose source does not carry a collector of its own.
	Collector             string `koanf:"collector"`
	BatchSize             int    `koanf:"batch_size"`
	FlushIntervalMs       int    `koanf:"flush_interval_ms"`
	ChannelBufferSize     int    `koanf:"channel_buffer_size"`
	MaxRecordBytes        int    `koanf:"max_record_bytes"`
	StoreRawBytes         bool   `koanf:"store_raw_bytes"`
	StoreRawBytesCompress bool   `koanf:"store_raw_bytes_compress"`
}

type RetentionConfig struct {
	Days     int    `koanf:"days"`
	Timezone string `koanf:"timezone"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load YAML file first.
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: MRT_INGESTER_KAFKA__BROKERS → kafka.brokers
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			InstanceID:             "mrt-ingester-1",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Kafka: KafkaConfig{
			ClientID:      "mrt-ingester",
			FetchMaxBytes: 52428800,
			Consumer: ConsumerConfig{
				GroupID: "mrt-ingester",
			},
			Producer: ProducerConfig{
				Compression:  "zstd",
				BatchRecords: 1000,
			},
		},
		Postgres: PostgresConfig{
			MaxConns: 20,
			MinConns: 2,
		},
		Ingest: IngestConfig{
			Collector:             "default",
			BatchSize:             1000,
			FlushIntervalMs:       200,
			ChannelBufferSize:     16,
			MaxRecordBytes:        16777216,
			StoreRawBytesCompress: true,
		},
		Retention: RetentionConfig{
			Days:     30,
			Timezone: "UTC",
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Split comma-separated env strings for slice fields.
	cfg.Kafka.Brokers = splitSingle(cfg.Kafka.Brokers)
	cfg.Kafka.Consumer.Topics = splitSingle(cfg.Kafka.Consumer.Topics)
	if cfg.Collectors == nil {
		cfg.Collectors = map[string]CollectorMeta{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func splitSingle(v []string) []string {
	if len(v) == 1 && strings.Contains(v[0], ",") {
		return strings.Split(v[0], ",")
	}
	return v
}

// Validate checks the settings every command depends on. Command-specific
// requirements are checked by RequirePostgres, RequireConsumer and RequireProducer.
func (c *Config) Validate() error {
	if c.Ingest.Collector == "" {
		return fmt.Errorf("config: ingest.collector is required")
	}
	if c.Ingest.FlushIntervalMs <= 0 {
		return fmt.Errorf("config: ingest.flush_interval_ms must be > 0 (got %d)", c.Ingest.FlushIntervalMs)
	}
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("config: ingest.batch_size must be > 0 (got %d)", c.Ingest.BatchSize)
	}
	if c.Ingest.ChannelBufferSize <= 0 {
		return fmt.Errorf("config: ingest.channel_buffer_size must be > 0 (got %d)", c.Ingest.ChannelBufferSize)
	}
	if c.Ingest.MaxRecordBytes <= 0 {
		return fmt.Errorf("config: ingest.max_record_bytes must be > 0 (got %d)", c.Ingest.MaxRecordBytes)
	}
	if c.Retention.Days <= 0 {
		return fmt.Errorf("config: retention.days must be > 0 (got %d)", c.Retention.Days)
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}
	if _, err := time.LoadLocation(c.Retention.Timezone); err != nil {
		return fmt.Errorf("config: retention.timezone is invalid: %w", err)
	}
	return nil
}

func (c *Config) RequirePostgres() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("config: postgres.dsn is required")
	}
	if c.Postgres.MaxConns <= 0 {
		return fmt.Errorf("config: postgres.max_conns must be > 0 (got %d)", c.Postgres.MaxConns)
	}
	if c.Postgres.MinConns < 0 {
		return fmt.Errorf("config: postgres.min_conns must be >= 0 (got %d)", c.Postgres.MinConns)
	}
	return nil
}

func (c *Config) RequireConsumer() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers is required")
	}
	if c.Kafka.Consumer.GroupID == "" {
		return fmt.Errorf("config: kafka.consumer.group_id is required")
	}
	if len(c.Kafka.Consumer.Topics) == 0 {
		return fmt.Errorf("config: kafka.consumer.topics is required")
	}
	if c.Kafka.FetchMaxBytes <= 0 {
		return fmt.Errorf("config: kafka.fetch_max_bytes must be > 0 (got %d)", c.Kafka.FetchMaxBytes)
	}
	if int64(c.Ingest.MaxRecordBytes) > int64(c.Kafka.FetchMaxBytes) {
		return fmt.Errorf("config: ingest.max_record_bytes (%d) exceeds kafka.fetch_max_bytes (%d); larger records can never be fetched",
			c.Ingest.MaxRecordBytes, c.Kafka.FetchMaxBytes)
	}
	return nil
}

func (c *Config) RequireProducer() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers is required")
	}
	if c.Kafka.Producer.Topic == "" {
		return fmt.Errorf("config: kafka.producer.topic is required")
	}
	if c.Kafka.Producer.BatchRecords <= 0 {
		return fmt.Errorf("config: kafka.producer.batch_records must be > 0 (got %d)", c.Kafka.Producer.BatchRecords)
	}
	switch strings.ToLower(c.Kafka.Producer.Compression) {
	case "", "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("config: kafka.producer.compression %q is not supported", c.Kafka.Producer.Compression)
	}
	return nil
}

// CollectorLocation returns the configured location of a collector, or "".
func (c *Config) CollectorLocation(name string) string {
	return c.Collectors[name].Location
}

// BuildTLSConfig creates a *tls.Config from the Kafka TLS settings. Returns nil if TLS is disabled.
func (k *KafkaConfig) BuildTLSConfig() (*tls.Config, error) {
	if !k.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if k.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(k.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if k.TLS.CertFile != "" && k.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(k.TLS.CertFile, k.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// BuildSASLMechanism creates a SASL mechanism from the Kafka SASL settings.
// Returns nil if SASL is disabled or the mechanism is unknown.
func (k *KafkaConfig) BuildSASLMechanism() sasl.Mechanism {
	if !k.SASL.Enabled {
		return nil
	}
	switch strings.ToUpper(k.SASL.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: k.SASL.Username, Pass: k.SASL.Password}.AsMechanism()
	case "SCRAM-SHA-256":
		return scram.Auth{User: k.SASL.Username, Pass: k.SASL.Password}.AsSha256Mechanism()
	case "SCRAM-SHA-512":
		return scram.Auth{User: k.SASL.Username, Pass: k.SASL.Password}.AsSha512Mechanism()
	default:
		return nil
	}
}
