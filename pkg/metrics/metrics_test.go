package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSessionCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewSession(WithRegistry(reg), WithSubsystem("client"))

	s.Sent("POSI", 34)
	s.Sent("POSI", 34)
	s.Received("RESP", 10)
	s.Timeout()
	s.ProtocolError("RESP")

	if got := testutil.ToFloat64(s.packetsSent.WithLabelValues("POSI")); got != 2 {
		t.Errorf("packets_sent{POSI} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(s.bytesSent); got != 68 {
		t.Errorf("bytes_sent = %v, want 68", got)
	}
	if got := testutil.ToFloat64(s.bytesReceived); got != 10 {
		t.Errorf("bytes_received = %v, want 10", got)
	}
	if got := testutil.ToFloat64(s.timeouts); got != 1 {
		t.Errorf("timeouts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.protocolErrors.WithLabelValues("RESP")); got != 1 {
		t.Errorf("protocol_errors{RESP} = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "xpc_client_packets_sent_total" {
			found = true
		}
	}
	if !found {
		t.Errorf("xpc_client_packets_sent_total not registered")
	}
}

func TestNilCollectorsAreNoops(t *testing.T) {
	var s *Session
	s.Sent("CONN", 7)
	s.Received("CONF", 6)
	s.Timeout()
	s.ProtocolError("CONF")

	var h *HTTP
	h.Observe("GET", "/healthz", 200, time.Millisecond)
}

func TestHTTPObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewHTTP(WithRegistry(reg), WithNamespace("test"))
	h.Observe("GET", "/api/v1/datarefs", 200, 5*time.Millisecond)
	h.Observe("GET", "/api/v1/datarefs", 504, time.Second)

	if got := testutil.ToFloat64(h.requests.WithLabelValues("GET", "/api/v1/datarefs", "504")); got != 1 {
		t.Errorf("requests{504} = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(h.duration); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}
