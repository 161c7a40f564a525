package archive

import (
	"errors"
	"io"

	"github.com/route-beacon/mrt-ingester/internal/metrics"
	"github.com/route-beacon/mrt-ingester/internal/mrt"
)

// DecodeStream reads records from r until a clean end of stream, flattening
// each and handing its rows to emit. r must capture raw bytes. The first
// decode, flatten or emit error stops the stream and is returned.
func DecodeStream(r *mrt.Reader, f *Flattener, label string, emit func([]*Row) error) error {
	for {
		h, rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			metrics.DecodeErrorsTotal.WithLabelValues(label, ErrorReason(err)).Inc()
			return err
		}
		metrics.RecordsDecodedTotal.WithLabelValues(label, h.Type.String()).Inc()

		rows, err := f.Flatten(h, rec, r.Raw())
		if err != nil {
			metrics.DecodeErrorsTotal.WithLabelValues(label, ErrorReason(err)).Inc()
			return err
		}
		if err := emit(rows); err != nil {
			return err
		}
	}
}

// ErrorReason classifies a decode failure for metrics and logs.
func ErrorReason(err error) string {
	var lenErr *mrt.LengthError
	var tagErr *mrt.InvalidTagError
	switch {
	case errors.Is(err, mrt.ErrTruncated):
		return "truncated"
	case errors.As(err, &lenErr):
		return "length"
	case errors.As(err, &tagErr):
		return "tag"
	case errors.Is(err, ErrUnknownPeer):
		return "peer_index"
	default:
		return "io"
	}
}
