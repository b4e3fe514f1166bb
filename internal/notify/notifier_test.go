package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func TestNotifyFiltersByEvent(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{"diagnostic.fatal"}, slog.New(slog.DiscardHandler))

	if err := n.Notify(context.Background(), "diagnostic.warn", "skipped", "body"); err != nil {
		t.Fatalf("filtered notify: %v", err)
	}
	if err := n.Notify(context.Background(), "diagnostic.fatal", "delivered", "body"); err != nil {
		t.Fatalf("allowed notify: %v", err)
	}

	if len(sender.titles) != 1 || sender.titles[0] != "delivered" {
		t.Errorf("delivered titles = %v, want only the allowed event", sender.titles)
	}
}

func TestNotifyEmptyAllowListPassesEverything(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, slog.New(slog.DiscardHandler))

	if err := n.Notify(context.Background(), "anything", "t", "m"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sender.titles) != 1 {
		t.Errorf("delivered = %d, want 1", len(sender.titles))
	}
}

func TestNotifyDeliversPastFailingSender(t *testing.T) {
	broken := &recordingSender{name: "broken", err: errors.New("webhook down")}
	healthy := &recordingSender{name: "healthy"}
	n := NewNotifier([]Sender{broken, healthy}, nil, slog.New(slog.DiscardHandler))

	err := n.Notify(context.Background(), "diagnostic.fatal", "t", "m")
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Errorf("err = %v, want the failing sender reported", err)
	}
	if len(healthy.titles) != 1 {
		t.Errorf("healthy sender got %d deliveries, want 1 despite the earlier failure", len(healthy.titles))
	}
}

func TestDiscordSenderPostsPayload(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewDiscordSender(srv.URL)
	if err := sender.Send(context.Background(), "fold rejected", "outcome out of range"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["username"] != "predindexer" {
		t.Errorf("username = %q, want predindexer", got["username"])
	}
	if !strings.Contains(got["content"], "**fold rejected**") {
		t.Errorf("content = %q, want bolded title", got["content"])
	}
}

func TestDiscordSenderSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v, want the status surfaced", err)
	}
}
