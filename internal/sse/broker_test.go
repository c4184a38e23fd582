package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// collect waits briefly, then returns everything buffered on sub.
func collect(sub *Subscription, wait time.Duration) []string {
	time.Sleep(wait)
	var out []string
	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func countEvents(msgs []string, event string) int {
	n := 0
	for _, m := range msgs {
		if strings.Contains(m, "event: "+event+"\n") {
			n++
		}
	}
	return n
}

// serve runs the handler until the returned stop function is called and
// returns what was written.
func serve(t *testing.T, b *Broker, target string, header ...string) (stop func() string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()
	return func() string {
		cancel()
		<-done
		return w.Body.String()
	}
}

func TestClientCount(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()

	a := b.Subscribe("", 0)
	c := b.Subscribe("n1", 0)
	if n := b.ClientCount(); n != 2 {
		t.Fatalf("clients = %d, want 2", n)
	}
	b.Unsubscribe(a)
	b.Unsubscribe(c)
	if n := b.ClientCount(); n != 0 {
		t.Fatalf("clients = %d after unsubscribe", n)
	}
	if _, ok := <-a.C; ok {
		t.Error("unsubscribed channel should be closed")
	}
}

func TestNoteEventFraming(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	sub := b.Subscribe("", 0)
	defer b.Unsubscribe(sub)

	b.PublishNoteEvent(KindDeleted, "01JNQ3", "01JNQ3.md")
	msgs := collect(sub, 50*time.Millisecond)
	if len(msgs) != 2 {
		t.Fatalf("messages = %q, want note and graph events", msgs)
	}
	want := "id: 1\nevent: note.deleted\ndata: {\"id\":\"01JNQ3\",\"path\":\"01JNQ3.md\"}\n\n"
	if msgs[0] != want {
		t.Errorf("note event = %q, want %q", msgs[0], want)
	}
	if !strings.HasPrefix(msgs[1], "id: 2\nevent: graph.updated\n") {
		t.Errorf("graph event = %q", msgs[1])
	}
}

func TestGraphUpdatesAreThrottled(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	sub := b.Subscribe("", 0)
	defer b.Unsubscribe(sub)

	b.PublishNoteEvent(KindCreated, "a", "a.md")
	b.PublishNoteEvent(KindUpdated, "b", "b.md")
	b.PublishNoteEvent("renamed", "c", "c.md")

	msgs := collect(sub, 50*time.Millisecond)
	if n := countEvents(msgs, "note.created") + countEvents(msgs, "note.updated"); n != 2 {
		t.Errorf("note events = %d, want 2", n)
	}
	if n := countEvents(msgs, "graph.updated"); n != 1 {
		t.Errorf("graph events = %d, want 1", n)
	}
}

func TestRebuildBypassesThrottle(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	sub := b.Subscribe("", 0)
	defer b.Unsubscribe(sub)

	b.PublishNoteEvent(KindCreated, "a", "a.md")
	b.PublishNoteEvent(KindRebuilt, "", "")

	msgs := collect(sub, 50*time.Millisecond)
	if n := countEvents(msgs, "index.rebuilt"); n != 1 {
		t.Errorf("index.rebuilt events = %d, want 1", n)
	}
	if n := countEvents(msgs, "graph.updated"); n != 2 {
		t.Errorf("graph events = %d, want 2", n)
	}
}

func TestNoteFilter(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	sub := b.Subscribe("b", 0)
	defer b.Unsubscribe(sub)

	b.PublishNoteEvent(KindUpdated, "a", "a.md")
	b.PublishNoteEvent(KindUpdated, "b", "b.md")

	msgs := collect(sub, 50*time.Millisecond)
	if n := countEvents(msgs, "note.updated"); n != 1 {
		t.Fatalf("note events = %d, want 1: %q", n, msgs)
	}
	for _, m := range msgs {
		if strings.Contains(m, `"id":"a"`) {
			t.Errorf("filtered client got %q", m)
		}
	}
	if countEvents(msgs, "graph.updated") != 1 {
		t.Error("graph events should reach filtered clients")
	}
}

func TestReplayAfterLastEventID(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()

	b.PublishNoteEvent(KindCreated, "a", "a.md") // ids 1, 2 (graph)
	b.PublishNoteEvent(KindUpdated, "a", "a.md") // id 3
	b.PublishNoteEvent(KindUpdated, "b", "b.md") // id 4
	time.Sleep(20 * time.Millisecond)

	sub := b.Subscribe("", 2)
	defer b.Unsubscribe(sub)
	msgs := collect(sub, 20*time.Millisecond)
	if len(msgs) != 2 || !strings.HasPrefix(msgs[0], "id: 3\n") || !strings.HasPrefix(msgs[1], "id: 4\n") {
		t.Errorf("replayed = %q", msgs)
	}

	fresh := b.Subscribe("", 0)
	defer b.Unsubscribe(fresh)
	if msgs := collect(fresh, 20*time.Millisecond); len(msgs) != 0 {
		t.Errorf("new client without Last-Event-ID got %q", msgs)
	}
}

func TestBacklogIsBounded(t *testing.T) {
	b := NewBroker(time.Hour, WithBacklog(2))
	defer b.Close()

	for _, id := range []string{"a", "b", "c"} {
		b.PublishNoteEvent(KindUpdated, id, id+".md")
	}
	time.Sleep(20 * time.Millisecond)

	sub := b.Subscribe("", 1)
	defer b.Unsubscribe(sub)
	msgs := collect(sub, 20*time.Millisecond)
	if len(msgs) != 2 {
		t.Fatalf("replayed %d events, want 2: %q", len(msgs), msgs)
	}
	if !strings.Contains(msgs[1], `"id":"c"`) {
		t.Errorf("last replayed = %q", msgs[1])
	}
}

func TestSlowClientDoesNotBlock(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	sub := b.Subscribe("", 0)
	defer b.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.PublishNoteEvent(KindUpdated, "x", "x.md")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing blocked on a full client buffer")
	}
	if n := b.ClientCount(); n != 1 {
		t.Errorf("clients = %d", n)
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	b := NewBroker(time.Second)
	sub := b.Subscribe("", 0)

	b.Close()

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("expected subscription channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
	if b.ClientCount() != 0 {
		t.Error("expected 0 clients after close")
	}

	// No-ops after close.
	b.PublishNoteEvent(KindUpdated, "x", "x.md")
	if _, ok := <-b.Subscribe("", 0).C; ok {
		t.Error("subscribing after close should yield a closed channel")
	}
}

func TestHandlerStreamsAndCleansUp(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()

	stop := serve(t, b, "/api/events")
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatal("expected 1 client from handler")
	}

	b.PublishNoteEvent(KindUpdated, "x", "x.md")
	time.Sleep(50 * time.Millisecond)
	body := stop()

	if !strings.HasPrefix(body, "retry: 3000\n\n") {
		t.Errorf("missing retry hint: %q", body)
	}
	if !strings.Contains(body, "event: note.updated") {
		t.Errorf("handler output missing event: %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Error("client not cleaned up after disconnect")
	}
}

func TestHandlerResumesAndFilters(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()

	b.PublishNoteEvent(KindCreated, "a", "a.md") // ids 1, 2
	b.PublishNoteEvent(KindUpdated, "b", "b.md") // id 3
	b.PublishNoteEvent(KindUpdated, "a", "a.md") // id 4
	time.Sleep(20 * time.Millisecond)

	stop := serve(t, b, "/api/events?note=a", "Last-Event-ID", "2")
	time.Sleep(50 * time.Millisecond)
	body := stop()

	if strings.Contains(body, `"id":"b"`) || !strings.Contains(body, "id: 4\n") {
		t.Errorf("body = %q", body)
	}
}

func TestHandlerRejectsBadLastEventID(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set("Last-Event-ID", "abc")
	w := httptest.NewRecorder()
	b.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandlerHeartbeat(t *testing.T) {
	b := NewBroker(time.Second, WithHeartbeat(10*time.Millisecond))
	defer b.Close()

	stop := serve(t, b, "/api/events")
	time.Sleep(60 * time.Millisecond)
	if body := stop(); !strings.Contains(body, ": ping") {
		t.Errorf("no heartbeat in %q", body)
	}
}
