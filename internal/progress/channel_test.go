// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package progress

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/freshlake/freshlake/internal/models"
)

func dialProgress(t *testing.T, b Broadcaster, sessionID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(b, w, r, sessionID)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return ev
}

func TestServeWSConnectedEvent(t *testing.T) {
	b := NewMemoryBroadcaster()
	b.CreateSession("s", models.Dataset{ID: "d", Name: "Dataset"}, 500, false)

	conn := dialProgress(t, b, "s")
	ev := readEvent(t, conn)

	if ev.Type != EventConnected || ev.SessionID != "s" {
		t.Fatalf("first event = %+v, want connected for session s", ev)
	}
	if ev.Progress == nil || ev.Progress.EstimatedTotal != 500 {
		t.Errorf("connected snapshot = %+v", ev.Progress)
	}
}

func TestServeWSReceivesProgressUpdates(t *testing.T) {
	b := NewMemoryBroadcaster()
	b.CreateSession("s", models.Dataset{ID: "d"}, 1000, false)

	conn := dialProgress(t, b, "s")
	_ = readEvent(t, conn) // connected

	if _, err := b.UpdateProgress("s", Update{Status: models.SessionFetching, Processed: int64p(450)}); err != nil {
		t.Fatal(err)
	}

	ev := readEvent(t, conn)
	if ev.Type != EventProgress {
		t.Fatalf("event type = %q, want progress", ev.Type)
	}
	if ev.Progress.Processed != 450 || ev.Progress.Percent != 45 {
		t.Errorf("progress = %+v, want processed 450 / percent 45", ev.Progress)
	}
}

func TestServeWSDetachesOnClose(t *testing.T) {
	b := NewMemoryBroadcaster()
	b.CreateSession("s", models.Dataset{ID: "d"}, 0, false)

	conn := dialProgress(t, b, "s")
	_ = readEvent(t, conn)
	_ = conn.Close()

	// Updates after close must not block or panic once the listener
	// detaches.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := b.UpdateProgress("s", Update{Processed: int64p(1)}); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFanOutAfterClientStopDoesNotPanic(t *testing.T) {
	b := NewMemoryBroadcaster()
	b.CreateSession("s", models.Dataset{ID: "d"}, 0, false)

	c := &wsClient{send: make(chan Event, sendBuffer), sessionID: "s"}
	id := b.AddListener("s", func(p *models.SyncProgress) {
		c.enqueue(Event{Type: EventProgress, SessionID: "s", Progress: p, Time: time.Now().UTC()})
	})

	// Fan-out snapshots listeners before invoking them, so a listener can
	// fire after its client disconnected. The late event is dropped.
	c.stop()
	c.stop() // disconnect paths may overlap; second stop is a no-op
	if _, err := b.UpdateProgress("s", Update{Processed: int64p(1)}); err != nil {
		t.Fatal(err)
	}
	b.RemoveListener("s", id)

	if _, ok := <-c.send; ok {
		t.Fatal("send channel should be closed and empty")
	}
}

func TestDisconnectRacesFanOut(t *testing.T) {
	b := NewMemoryBroadcaster()
	b.CreateSession("s", models.Dataset{ID: "d"}, 0, false)

	for i := 0; i < 100; i++ {
		c := &wsClient{send: make(chan Event, sendBuffer), sessionID: "s"}
		id := b.AddListener("s", func(p *models.SyncProgress) {
			c.enqueue(Event{Type: EventProgress, SessionID: "s", Progress: p, Time: time.Now().UTC()})
		})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := int64(0); j < 10; j++ {
				_, _ = b.UpdateProgress("s", Update{Processed: int64p(j)})
			}
		}()
		go func() {
			defer wg.Done()
			b.RemoveListener("s", id)
			c.stop()
		}()
		wg.Wait()
	}
}
