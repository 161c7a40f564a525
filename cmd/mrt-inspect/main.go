package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/route-beacon/mrt-ingester/internal/archive"
	"github.com/route-beacon/mrt-ingester/internal/kafka"
	"github.com/route-beacon/mrt-ingester/internal/mrt"
	"github.com/twmb/franz-go/pkg/kgo"
)

func main() {
	broker := "localhost:29092"
	topic := "mrt.updates"
	if len(os.Args) > 1 {
		broker = os.Args[1]
	}
	if len(os.Args) > 2 {
		topic = os.Args[2]
	}

	cl, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.ConsumerGroup(fmt.Sprintf("mrt-inspect-%d", time.Now().UnixNano())),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kafka client: %v\n", err)
		os.Exit(1)
	}
	defer cl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	flatteners := make(map[string]*archive.Flattener)
	msgNum := 0
	for {
		fetches := cl.PollRecords(ctx, 100)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			break
		}

		fetches.EachRecord(func(rec *kgo.Record) {
			msgNum++
			collector := kafka.HeaderValue(rec, kafka.CollectorHeader)
			fmt.Printf("=== Kafka msg %d (partition=%d offset=%d collector=%q, %d bytes) ===\n",
				msgNum, rec.Partition, rec.Offset, collector, len(rec.Value))

			f, ok := flatteners[collector]
			if !ok {
				f = archive.NewFlattener(collector, rec.Topic)
				flatteners[collector] = f
			}
			analyzeMessage(os.Stdout, f, rec.Value)
			fmt.Println()
		})

		if msgNum > 0 && len(fetches.Records()) == 0 {
			break
		}
	}

	fmt.Printf("Total Kafka messages: %d\n", msgNum)
}

// analyzeMessage prints every MRT record in data and the rows it archives to.
func analyzeMessage(w io.Writer, f *archive.Flattener, data []byte) {
	r := mrt.NewReader(bytes.NewReader(data), mrt.WithRawCapture())
	for {
		h, rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Fprintf(w, "  record %d: decode error (%s): %v\n", r.Records()+1, archive.ErrorReason(err), err)
			return
		}
		raw := r.Raw()
		fmt.Fprintf(w, "  record %d: %s type=%s subtype=%d length=%d\n",
			r.Records(), h.Time().Format(time.RFC3339Nano), h.Type, h.Subtype, h.Length)
		fmt.Fprintf(w, "    header: %s\n", hex.EncodeToString(raw[:min(len(raw), mrt.HeaderSize)]))

		rows, err := f.Flatten(h, rec, raw)
		if err != nil {
			fmt.Fprintf(w, "    flatten error (%s): %v\n", archive.ErrorReason(err), err)
			continue
		}
		for _, row := range rows {
			fmt.Fprintf(w, "    row %d: kind=%s", row.Ordinal, row.Kind)
			if row.PeerAddress.IsValid() {
				fmt.Fprintf(w, " peer=%s as=%d", row.PeerAddress, row.PeerAS)
			}
			if row.Prefix.IsValid() {
				fmt.Fprintf(w, " prefix=%s", row.Prefix)
			}
			if row.NewState != 0 {
				fmt.Fprintf(w, " state=%s->%s", mrt.State(row.OldState), mrt.State(row.NewState))
			}
			if len(row.Message) > 0 {
				fmt.Fprintf(w, " message=%d bytes", len(row.Message))
			}
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintf(w, "  MRT records in message: %d\n", r.Records())
}
