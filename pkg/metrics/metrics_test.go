package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hsmlink/hsmlink-go/pkg/log"
	"github.com/hsmlink/hsmlink-go/pkg/socket"
)

func newCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(reg), reg
}

func family(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %s not gathered", name)
	return nil
}

func stateEvent(from, to string) log.Event {
	return log.Event{
		Category:    log.CategoryState,
		StateChange: &log.StateChangeEvent{Entity: log.StateEntityConnection, OldState: from, NewState: to},
	}
}

func TestCollectorData(t *testing.T) {
	c, reg := newCollector(t)

	c.Log(log.Event{Category: log.CategoryData, Layer: log.LayerFraming, Direction: log.DirectionOut, Data: &log.DataEvent{Size: 7}})
	c.Log(log.Event{Category: log.CategoryData, Layer: log.LayerFraming, Direction: log.DirectionIn, Data: &log.DataEvent{Size: 7}})
	c.Log(log.Event{Category: log.CategoryData, Layer: log.LayerFraming, Direction: log.DirectionIn, Data: &log.DataEvent{Size: 2}})
	c.Log(log.Event{Category: log.CategoryData, Layer: log.LayerTransport, Direction: log.DirectionOut, Data: &log.DataEvent{Size: 100}})
	c.Log(log.Event{Category: log.CategoryData, Layer: log.LayerTransport, Direction: log.DirectionOut, Data: &log.DataEvent{Size: 20}})
	c.Log(log.Event{Category: log.CategoryData})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Frames.WithLabelValues("out")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Frames.WithLabelValues("in")))
	assert.Equal(t, 120.0, testutil.ToFloat64(c.Bytes.WithLabelValues("out")))

	mf := family(t, reg, "hsmlink_frames_total")
	assert.Equal(t, dto.MetricType_COUNTER, mf.GetType())
	assert.Len(t, mf.GetMetric(), 2)
}

func TestCollectorStates(t *testing.T) {
	c, _ := newCollector(t)

	c.Log(stateEvent("CLOSED", "CONNECTING"))
	c.Log(stateEvent("CONNECTING", "CONNECTED"))
	c.Log(stateEvent("CLOSED", "CONNECTED"))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Sessions))

	c.Log(stateEvent("CONNECTED", "CLOSING"))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Sessions))

	c.Log(log.Event{
		Category:    log.CategoryState,
		StateChange: &log.StateChangeEvent{Entity: log.StateEntityListener, NewState: "CONNECTED"},
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Sessions), "listener states do not count as sessions")
	assert.Equal(t, 2.0, testutil.ToFloat64(c.States.WithLabelValues("connection", "CONNECTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.States.WithLabelValues("listener", "CONNECTED")))
}

func TestCollectorHandshakesAndErrors(t *testing.T) {
	c, reg := newCollector(t)

	c.Log(log.Event{Category: log.CategoryHandshake, Handshake: &log.HandshakeEvent{Outcome: log.HandshakeStarted}})
	c.Log(log.Event{Category: log.CategoryHandshake, Handshake: &log.HandshakeEvent{
		Outcome:     log.HandshakeCompleted,
		CipherSuite: "TLS_AES_128_GCM_SHA256",
		Duration:    3 * time.Millisecond,
	}})
	c.Log(log.Event{Category: log.CategoryHandshake, Handshake: &log.HandshakeEvent{Outcome: log.HandshakeFailed, Reason: "bad certificate"}})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Handshakes.WithLabelValues("completed", "TLS_AES_128_GCM_SHA256")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Handshakes.WithLabelValues("failed", "")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.Handshakes))
	assert.Equal(t, uint64(1), family(t, reg, "hsmlink_tls_handshake_duration_seconds").GetMetric()[0].GetHistogram().GetSampleCount())

	code := int(socket.KindTimeout)
	c.Log(log.Event{Category: log.CategoryError, Layer: log.LayerFraming, Error: &log.ErrorEventData{Layer: log.LayerFraming, Code: &code}})
	c.Log(log.Event{Category: log.CategoryError, Layer: log.LayerTLS})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Errors.WithLabelValues("framing", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Errors.WithLabelValues("tls", "unknown")))
}

func TestCollectorDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestHandler(t *testing.T) {
	c, reg := newCollector(t)
	c.Log(log.Event{Category: log.CategoryData, Layer: log.LayerFraming, Direction: log.DirectionIn, Data: &log.DataEvent{Size: 4}})

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `hsmlink_frames_total{direction="in"} 1`)
}
