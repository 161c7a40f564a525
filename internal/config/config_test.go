package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			InstanceID:             "test",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			FetchMaxBytes: 52428800,
			Consumer:      ConsumerConfig{GroupID: "g1", Topics: []string{"mrt.rrc00"}},
			Producer:      ProducerConfig{Topic: "mrt.rrc00", Compression: "zstd", BatchRecords: 100},
		},
		Postgres: PostgresConfig{
			DSN:      "postgres://localhost/test",
			MaxConns: 10,
			MinConns: 2,
		},
		Ingest: IngestConfig{
			Collector:         "rrc00",
			BatchSize:         1000,
			FlushIntervalMs:   200,
			ChannelBufferSize: 16,
			MaxRecordBytes:    1024,
		},
		Retention: RetentionConfig{
			Days:     30,
			Timezone: "UTC",
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
	if err := cfg.RequirePostgres(); err != nil {
		t.Fatalf("expected postgres settings to be valid, got: %v", err)
	}
	if err := cfg.RequireConsumer(); err != nil {
		t.Fatalf("expected consumer settings to be valid, got: %v", err)
	}
	if err := cfg.RequireProducer(); err != nil {
		t.Fatalf("expected producer settings to be valid, got: %v", err)
	}
}

func TestValidate_NoCollector(t *testing.T) {
	cfg := validConfig()
	cfg.Ingest.Collector = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty collector")
	}
}

func TestValidate_FlushIntervalZero(t *testing.T) {
	cfg := validConfig()
	cfg.Ingest.FlushIntervalMs = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for flush_interval_ms = 0")
	}
}

func TestValidate_FlushIntervalNegative(t *testing.T) {
	cfg := validConfig()
	cfg.Ingest.FlushIntervalMs = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative flush_interval_ms")
	}
}

func TestValidate_BatchSizeZero(t *testing.T) {
	cfg := validConfig()
	cfg.Ingest.BatchSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for batch_size = 0")
	}
}

func TestValidate_ChannelBufferSizeZero(t *testing.T) {
	cfg := validConfig()
	cfg.Ingest.ChannelBufferSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for channel_buffer_size = 0")
	}
}

func TestValidate_MaxRecordBytesZero(t *testing.T) {
	cfg := validConfig()
	cfg.Ingest.MaxRecordBytes = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for max_record_bytes = 0")
	}
}

func TestValidate_RetentionDaysZero(t *testing.T) {
	cfg := validConfig()
	cfg.Retention.Days = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for retention.days = 0")
	}
}

func TestValidate_ShutdownTimeoutZero(t *testing.T) {
	cfg := validConfig()
	cfg.Service.ShutdownTimeoutSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for shutdown_timeout_seconds = 0")
	}
}

func TestValidate_InvalidTimezone(t *testing.T) {
	cfg := validConfig()
	cfg.Retention.Timezone = "Not/A/Real/Zone"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestValidate_ValidTimezone(t *testing.T) {
	cfg := validConfig()
	cfg.Retention.Timezone = "America/New_York"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_CommonDoesNotNeedBackends(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.Brokers = nil
	cfg.Postgres.DSN = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("dump-only config should validate, got: %v", err)
	}
}

func TestRequirePostgres_NoDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.DSN = ""
	if err := cfg.RequirePostgres(); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestRequirePostgres_MaxConnsZero(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.MaxConns = 0
	if err := cfg.RequirePostgres(); err == nil {
		t.Fatal("expected error for max_conns = 0")
	}
}

func TestRequireConsumer_NoBrokers(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.Brokers = nil
	if err := cfg.RequireConsumer(); err == nil {
		t.Fatal("expected error for empty brokers")
	}
}

func TestRequireConsumer_NoGroupID(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.Consumer.GroupID = ""
	if err := cfg.RequireConsumer(); err == nil {
		t.Fatal("expected error for empty group_id")
	}
}

func TestRequireConsumer_NoTopics(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.Consumer.Topics = nil
	if err := cfg.RequireConsumer(); err == nil {
		t.Fatal("expected error for empty topics")
	}
}

func TestRequireConsumer_RecordLargerThanFetch(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.FetchMaxBytes = 512
	if err := cfg.RequireConsumer(); err == nil {
		t.Fatal("expected error when max_record_bytes exceeds fetch_max_bytes")
	}
}

func TestRequireProducer_NoTopic(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.Producer.Topic = ""
	if err := cfg.RequireProducer(); err == nil {
		t.Fatal("expected error for empty producer topic")
	}
}

func TestRequireProducer_UnknownCompression(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.Producer.Compression = "brotli"
	if err := cfg.RequireProducer(); err == nil {
		t.Fatal("expected error for unsupported compression")
	}
}

func TestBuildSASLMechanism(t *testing.T) {
	k := KafkaConfig{SASL: SASLConfig{Enabled: true, Mechanism: "scram-sha-512", Username: "u", Password: "p"}}
	m := k.BuildSASLMechanism()
	if m == nil {
		t.Fatal("expected a SCRAM mechanism")
	}
	if m.Name() != "SCRAM-SHA-512" {
		t.Errorf("expected SCRAM-SHA-512, got %q", m.Name())
	}

	k.SASL.Mechanism = "GSSAPI"
	if k.BuildSASLMechanism() != nil {
		t.Error("expected nil for unsupported mechanism")
	}

	k.SASL.Enabled = false
	k.SASL.Mechanism = "PLAIN"
	if k.BuildSASLMechanism() != nil {
		t.Error("expected nil when SASL is disabled")
	}
}

func TestBuildTLSConfig_Disabled(t *testing.T) {
	k := KafkaConfig{}
	tlsCfg, err := k.BuildTLSConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tlsCfg != nil {
		t.Error("expected nil TLS config when disabled")
	}
}

func writeMinimalYAML(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	data := `
kafka:
  brokers:
    - "localhost:9092"
  consumer:
    topics:
      - "mrt.rrc00"
postgres:
  dsn: "postgres://localhost/test"
ingest:
  collector: "rrc00"
collectors:
  rrc00:
    location: "Amsterdam"
`
	if err := os.WriteFile(p, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeMinimalYAML(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Kafka.Consumer.GroupID != "mrt-ingester" {
		t.Errorf("expected default group_id, got %q", cfg.Kafka.Consumer.GroupID)
	}
	if cfg.Ingest.Collector != "rrc00" {
		t.Errorf("expected collector from file, got %q", cfg.Ingest.Collector)
	}
	if got := cfg.CollectorLocation("rrc00"); got != "Amsterdam" {
		t.Errorf("expected collector location Amsterdam, got %q", got)
	}
	if got := cfg.CollectorLocation("route-views2"); got != "" {
		t.Errorf("expected empty location for unknown collector, got %q", got)
	}
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Ingest.Collector != "default" {
		t.Errorf("expected default collector, got %q", cfg.Ingest.Collector)
	}
}

func TestLoad_EnvOverrideDSN(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("MRT_INGESTER_POSTGRES__DSN", "postgres://envhost/envdb")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Postgres.DSN != "postgres://envhost/envdb" {
		t.Errorf("expected DSN from env, got %q", cfg.Postgres.DSN)
	}
}

func TestLoad_EnvOverrideLogLevel(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("MRT_INGESTER_SERVICE__LOG_LEVEL", "debug")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.LogLevel != "debug" {
		t.Errorf("expected log_level 'debug' from env, got %q", cfg.Service.LogLevel)
	}
}

func TestLoad_EnvCommaSeparatedBrokers(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("MRT_INGESTER_KAFKA__BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("expected two brokers from env, got %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_EnvEmptyCollectorFailsValidation(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("MRT_INGESTER_INGEST__COLLECTOR", "")

	_, err := Load(p)
	if err == nil {
		t.Fatal("expected validation error for empty collector via env")
	}
}
