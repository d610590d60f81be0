package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.lionforge.dev/internal/event"
)

type stubMessage struct {
	id   string
	data []byte

	mu       sync.Mutex
	acked    bool
	naked    bool
	nakDelay time.Duration
}

func (m *stubMessage) ID() string   { return m.id }
func (m *stubMessage) Data() []byte { return m.data }

func (m *stubMessage) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = true
	return nil
}

func (m *stubMessage) Nak() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.naked = true
	return nil
}

func (m *stubMessage) NakWithDelay(delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.naked = true
	m.nakDelay = delay
	return nil
}

func (m *stubMessage) snapshot() (acked, naked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked, m.naked
}

type stubAppender struct {
	mu       sync.Mutex
	appended []*event.Event
}

func (a *stubAppender) Append(e *event.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.appended = append(a.appended, e)
	return nil
}

func instantCall(status int) event.CallFunc {
	return func(ctx context.Context, payload map[string]any, headers map[string]string) (*event.Response, error) {
		return &event.Response{Status: status}, nil
	}
}

func waitForAckOrNak(t *testing.T, msg *stubMessage) (acked, naked bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		acked, naked = msg.snapshot()
		if acked || naked {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	return
}

func TestDispatchAcksOnCompletion(t *testing.T) {
	appender := &stubAppender{}
	translate := func(body []byte) (*event.Event, error) {
		return event.New(instantCall(200), 1, 1, map[string]any{"body": string(body)}, nil), nil
	}
	msg := &stubMessage{id: "m1", data: []byte("payload")}

	dispatch(context.Background(), "nats", msg, translate, appender, slog.Default())

	if len(appender.appended) != 1 {
		t.Fatalf("expected 1 appended event, got %d", len(appender.appended))
	}
	event.MarkProcessing(appender.appended[0])
	event.CompleteWith(appender.appended[0], "ok", time.Millisecond)

	acked, naked := waitForAckOrNak(t, msg)
	if !acked || naked {
		t.Fatalf("expected ack only, got acked=%v naked=%v", acked, naked)
	}
}

func TestDispatchNaksOnFailure(t *testing.T) {
	appender := &stubAppender{}
	translate := func(body []byte) (*event.Event, error) {
		return event.New(instantCall(500), 1, 1, nil, nil), nil
	}
	msg := &stubMessage{id: "m2", data: []byte("payload")}

	dispatch(context.Background(), "nats", msg, translate, appender, slog.Default())

	event.MarkProcessing(appender.appended[0])
	event.FailWith(appender.appended[0], "boom", time.Millisecond)

	acked, naked := waitForAckOrNak(t, msg)
	if acked || !naked {
		t.Fatalf("expected nak only, got acked=%v naked=%v", acked, naked)
	}
	if msg.nakDelay != nakRedeliveryDelay {
		t.Fatalf("expected nak delay %v, got %v", nakRedeliveryDelay, msg.nakDelay)
	}
}

func TestDispatchNaksOnTranslationError(t *testing.T) {
	appender := &stubAppender{}
	translate := func(body []byte) (*event.Event, error) {
		return nil, errors.New("bad payload")
	}
	msg := &stubMessage{id: "m3", data: []byte("garbage")}

	dispatch(context.Background(), "nats", msg, translate, appender, slog.Default())

	if len(appender.appended) != 0 {
		t.Fatalf("expected no event appended on translation error")
	}
	if _, naked := msg.snapshot(); !naked {
		t.Fatal("expected message to be naked immediately on translation error")
	}
}
