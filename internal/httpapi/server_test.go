package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.lionforge.dev/internal/corefail"
	"go.lionforge.dev/internal/event"
	"go.lionforge.dev/internal/id"
)

type stubSource struct {
	appendErr error
	completed []*event.Event
	failed    []*event.Event
	pending   []*event.Event
	appended  []*event.Event
	byID      map[id.ID]*event.Event
}

func (s *stubSource) Append(e *event.Event) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appended = append(s.appended, e)
	return nil
}

func (s *stubSource) CompletedEvents() ([]*event.Event, error) { return s.completed, nil }
func (s *stubSource) FailedEvents() ([]*event.Event, error)    { return s.failed, nil }
func (s *stubSource) PendingEvents() ([]*event.Event, error)   { return s.pending, nil }

func (s *stubSource) Get(i id.ID) (*event.Event, error) {
	e, ok := s.byID[i]
	if !ok {
		return nil, corefail.New(corefail.KindNotFound, "EVENT_NOT_FOUND", "no event with that id")
	}
	return e, nil
}

func noopCall(ctx context.Context, payload map[string]any, headers map[string]string) (*event.Response, error) {
	return &event.Response{Status: 200}, nil
}

func TestHandleAppendReturns202(t *testing.T) {
	source := &stubSource{}
	srv := NewServer(source, func(req AppendRequest) *event.Event {
		return event.New(noopCall, req.RequiredTokens, req.EstimatedOutputTokens, req.Payload, req.Headers)
	}, nil)

	body, _ := json.Marshal(AppendRequest{RequiredTokens: 5})
	req := httptest.NewRequest(http.MethodPost, "/events/", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(source.appended) != 1 {
		t.Fatalf("expected 1 appended event, got %d", len(source.appended))
	}
}

func TestHandleAppendReturnsBadRequestOnInvalidJSON(t *testing.T) {
	srv := NewServer(&stubSource{}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/events/", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()

	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleAppendTranslatesConfigurationError(t *testing.T) {
	source := &stubSource{appendErr: corefail.New(corefail.KindConfigurationError, "BAD_CFG", "nope")}
	srv := NewServer(source, func(req AppendRequest) *event.Event {
		return event.New(nil, 0, 0, nil, nil)
	}, nil)

	body, _ := json.Marshal(AppendRequest{})
	req := httptest.NewRequest(http.MethodPost, "/events/", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCompletedReturnsSnapshots(t *testing.T) {
	e := event.New(nil, 0, 0, nil, nil)
	event.MarkProcessing(e)
	event.CompleteWith(e, "ok", time.Millisecond)

	source := &stubSource{completed: []*event.Event{e}}
	srv := NewServer(source, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/events/completed", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snapshots []event.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshots); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(snapshots) != 1 || snapshots[0].Status != "COMPLETED" {
		t.Fatalf("unexpected snapshots: %+v", snapshots)
	}
}

func TestHandleGetReturnsSingleEvent(t *testing.T) {
	e := event.New(nil, 0, 0, nil, nil)
	source := &stubSource{byID: map[id.ID]*event.Event{e.ID: e}}
	srv := NewServer(source, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/events/"+e.ID.String(), nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var snap event.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.ID != e.ID.String() {
		t.Fatalf("expected snapshot for %s, got %s", e.ID, snap.ID)
	}
}

func TestHandleGetReturnsNotFoundForUnknownID(t *testing.T) {
	source := &stubSource{byID: map[id.ID]*event.Event{}}
	srv := NewServer(source, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/events/"+id.New().String(), nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleGetReturnsBadRequestForMalformedID(t *testing.T) {
	srv := NewServer(&stubSource{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/events/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
