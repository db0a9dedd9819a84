package socket

import (
	"crypto/tls"
	"sync"
	"time"

	"github.com/hsmlink/hsmlink-go/pkg/log"
)

// maxLogData bounds the payload bytes copied into a data event.
const maxLogData = 4096

// emitter turns socket activity into protocol log events. A nil logger
// disables it.
type emitter struct {
	mu     sync.RWMutex
	logger log.Logger

	connID string
	role   log.Role
	local  string
	remote string
}

func (e *emitter) setLogger(l log.Logger) {
	e.mu.Lock()
	e.logger = l
	e.mu.Unlock()
}

func (e *emitter) setAddrs(local, remote string) {
	e.mu.Lock()
	e.local, e.remote = local, remote
	e.mu.Unlock()
}

func (e *emitter) emit(ev log.Event) {
	e.mu.RLock()
	l := e.logger
	ev.ConnectionID = e.connID
	ev.LocalRole = e.role
	ev.LocalAddr = e.local
	ev.RemoteAddr = e.remote
	e.mu.RUnlock()
	if l == nil {
		return
	}
	ev.Timestamp = time.Now()
	l.Log(ev)
}

func (e *emitter) enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.logger != nil
}

func (e *emitter) state(entity log.StateEntity, from, to, reason string) {
	e.emit(log.Event{
		Category: log.CategoryState,
		Layer:    log.LayerTransport,
		StateChange: &log.StateChangeEvent{
			Entity:   entity,
			OldState: from,
			NewState: to,
			Reason:   reason,
		},
	})
}

func (e *emitter) data(layer log.Layer, dir log.Direction, p []byte) {
	if !e.enabled() {
		return
	}
	d := log.TruncateData(log.DataEvent{Size: len(p), Data: p}, maxLogData)
	if !d.Truncated {
		d.Data = append([]byte(nil), p...)
	}
	e.emit(log.Event{
		Direction: dir,
		Layer:     layer,
		Category:  log.CategoryData,
		Data:      &d,
	})
}

func (e *emitter) handshake(outcome log.HandshakeOutcome, ch *Channel, serverName string, err error) {
	if !e.enabled() {
		return
	}
	h := &log.HandshakeEvent{Outcome: outcome, ServerName: serverName}
	if ch != nil {
		h.Duration = ch.Elapsed()
		if st := ch.ConnectionState(); st.HandshakeComplete {
			h.Version = tls.VersionName(st.Version)
			h.CipherSuite = tls.CipherSuiteName(st.CipherSuite)
			if st.ServerName != "" {
				h.ServerName = st.ServerName
			}
			if len(st.PeerCertificates) > 0 {
				h.PeerSubject = st.PeerCertificates[0].Subject.CommonName
			}
		}
	}
	if err != nil {
		h.Reason = err.Error()
	}
	e.emit(log.Event{
		Layer:     log.LayerTLS,
		Category:  log.CategoryHandshake,
		Handshake: h,
	})
}

func (e *emitter) failure(layer log.Layer, context string, err error) {
	if err == nil || !e.enabled() {
		return
	}
	code := int(KindOf(err))
	e.emit(log.Event{
		Layer:    layer,
		Category: log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Code:    &code,
			Context: context,
		},
	})
}
