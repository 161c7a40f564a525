package kafka

import (
	"context"
	"crypto/tls"
	"sync"
	"sync/atomic"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"go.uber.org/zap"
)

// CollectorHeader names the record header carrying the collector an MRT
// record was captured by.
const CollectorHeader = "collector"

// ClientOptions are the connection settings shared by consumers and producers.
type ClientOptions struct {
	Brokers  []string
	ClientID string
	TLS      *tls.Config
	SASL     sasl.Mechanism
}

func (o ClientOptions) kgoOpts() []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(o.Brokers...),
		kgo.ClientID(o.ClientID),
	}
	if o.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(o.TLS))
	}
	if o.SASL != nil {
		opts = append(opts, kgo.SASL(o.SASL))
	}
	return opts
}

type Consumer struct {
	client *kgo.Client
	logger *zap.Logger
	joined atomic.Bool
}

func NewConsumer(co ClientOptions, groupID string, topics []string, fetchMaxBytes int32, logger *zap.Logger) (*Consumer, error) {
	c := &Consumer{logger: logger}

	opts := append(co.kgoOpts(),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.FetchMaxBytes(fetchMaxBytes),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, _ map[string][]int32) {
			c.joined.Store(true)
			logger.Info("consumer: partitions assigned")
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, _ map[string][]int32) {
			c.joined.Store(false)
			logger.Info("consumer: partitions revoked")
		}),
	)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}

	c.client = client
	return c, nil
}

// Run fetches records and sends them to the records channel.
// It reads from flushed to commit offsets after successful DB writes; the
// commit loop keeps draining flushed after ctx is done, until it is closed.
func (c *Consumer) Run(ctx context.Context, records chan<- []*kgo.Record, flushed <-chan []*kgo.Record, commitWg *sync.WaitGroup) {
	commitWg.Add(1)
	go func() {
		defer commitWg.Done()
		for recs := range flushed {
			for _, r := range recs {
				c.client.MarkCommitRecords(r)
			}
			// The final flush arrives after ctx is cancelled; commit it anyway.
			if err := c.client.CommitMarkedOffsets(context.WithoutCancel(ctx)); err != nil {
				c.logger.Error("consumer: commit offsets failed", zap.Error(err))
			}
		}
	}()

	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				c.logger.Error("consumer: fetch error",
					zap.String("topic", e.Topic),
					zap.Int32("partition", e.Partition),
					zap.Error(e.Err),
				)
			}
		}

		var batch []*kgo.Record
		fetches.EachRecord(func(r *kgo.Record) {
			batch = append(batch, r)
		})

		if len(batch) > 0 {
			select {
			case records <- batch:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Consumer) IsJoined() bool {
	return c.joined.Load()
}

func (c *Consumer) Close() {
	c.client.Close()
}

// HeaderValue returns the value of the first header named key, or "".
func HeaderValue(r *kgo.Record, key string) string {
	for _, h := range r.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
