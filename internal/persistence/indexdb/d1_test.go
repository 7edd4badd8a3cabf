package indexdb

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"dissonance.ai/internal/sim/game"
)

func TestD1Index_RetainsBatchOnFlushFailure(t *testing.T) {
	var mu sync.Mutex
	reqCount := 0
	var kinds []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqCount++
		thisReq := reqCount
		mu.Unlock()

		if thisReq <= 3 {
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}
		if r.Header.Get("x-dsn-index-token") != "secret" {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}

		var body struct {
			Events []d1Event `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		for _, ev := range body.Events {
			kinds = append(kinds, ev.Kind)
		}
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	idx, err := OpenD1(D1Config{
		Endpoint:      srv.URL,
		Token:         "secret",
		GameID:        "g1",
		BatchSize:     1,
		FlushInterval: 20 * time.Millisecond,
		HTTPTimeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("OpenD1: %v", err)
	}
	defer func() { _ = idx.Close() }()

	if err := idx.WriteTick(game.TickLogEntry{GameID: "g1", Tick: 123, Digest: "abc"}); err != nil {
		t.Fatalf("WriteTick: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(kinds) >= 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	got := append([]string(nil), kinds...)
	mu.Unlock()
	if len(got) < 1 || got[0] != "tick" {
		t.Fatalf("expected retained tick batch to be delivered, got %v", got)
	}

	st := idx.Stats()
	if st.FlushFailTotal == 0 {
		t.Fatalf("expected flush failures to be recorded, got 0")
	}
	if st.QueueDroppedTotal != 0 {
		t.Fatalf("unexpected queue drops: %d", st.QueueDroppedTotal)
	}
}

func TestOpenD1_RequiresEndpointAndGame(t *testing.T) {
	if _, err := OpenD1(D1Config{GameID: "g"}); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := OpenD1(D1Config{Endpoint: "http://127.0.0.1:1"}); err == nil {
		t.Fatalf("expected game id error")
	}
}
