package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/route-beacon/mrt-ingester/internal/metrics"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Producer publishes raw MRT records, one record per Kafka message, keyed by
// collector so a collector's records stay ordered within one partition.
type Producer struct {
	client *kgo.Client
	topic  string
	logger *zap.Logger
}

func NewProducer(co ClientOptions, topic, compression string, logger *zap.Logger) (*Producer, error) {
	codec, err := CompressionCodec(compression)
	if err != nil {
		return nil, err
	}
	opts := append(co.kgoOpts(),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(codec),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return &Producer{client: client, topic: topic, logger: logger}, nil
}

// Publish produces records synchronously and returns the first failure.
func (p *Producer) Publish(ctx context.Context, collector string, records [][]byte) error {
	if len(records) == 0 {
		return nil
	}
	msgs := NewRecords(p.topic, collector, records)
	if err := p.client.ProduceSync(ctx, msgs...).FirstErr(); err != nil {
		return fmt.Errorf("producing %d records to %s: %w", len(msgs), p.topic, err)
	}
	metrics.KafkaMessagesTotal.WithLabelValues(p.topic, "produced").Add(float64(len(msgs)))
	return nil
}

func (p *Producer) Close() {
	p.client.Close()
}

// NewRecords wraps raw MRT records as Kafka messages for topic.
func NewRecords(topic, collector string, records [][]byte) []*kgo.Record {
	msgs := make([]*kgo.Record, len(records))
	for i, raw := range records {
		msgs[i] = &kgo.Record{
			Topic:   topic,
			Key:     []byte(collector),
			Value:   raw,
			Headers: []kgo.RecordHeader{{Key: CollectorHeader, Value: []byte(collector)}},
		}
	}
	return msgs
}

// CompressionCodec maps a configured compression name to its codec.
func CompressionCodec(name string) (kgo.CompressionCodec, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return kgo.NoCompression(), nil
	case "gzip":
		return kgo.GzipCompression(), nil
	case "snappy":
		return kgo.SnappyCompression(), nil
	case "lz4":
		return kgo.Lz4Compression(), nil
	case "zstd":
		return kgo.ZstdCompression(), nil
	default:
		return kgo.CompressionCodec{}, fmt.Errorf("unsupported compression %q", name)
	}
}
