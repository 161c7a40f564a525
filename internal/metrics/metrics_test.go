package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegister_NoPanic(t *testing.T) {
	Register()
	Register() // second call should be a no-op
}

func TestRecordsDecodedTotal_Labels(t *testing.T) {
	RecordsDecodedTotal.WithLabelValues("test", "BGP4MP").Add(3)
	if got := testutil.ToFloat64(RecordsDecodedTotal.WithLabelValues("test", "BGP4MP")); got != 3 {
		t.Errorf("expected 3, got %v", got)
	}
}
