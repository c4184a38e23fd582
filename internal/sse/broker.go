// Package sse implements a Server-Sent Events broker that relays note and
// index changes to connected clients.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Note change kinds accepted by PublishNoteEvent.
const (
	KindCreated = "created"
	KindUpdated = "updated"
	KindDeleted = "deleted"
	KindRebuilt = "rebuilt"
)

// NoteEvent is the payload of note.* events.
type NoteEvent struct {
	ID   string `json:"id,omitempty"`
	Path string `json:"path,omitempty"`
}

// message is one framed event. note is empty for events every client gets.
type message struct {
	seq  uint64
	note string
	raw  []byte
}

// Subscription is one client's stream. C is closed when the client is
// unsubscribed or the broker shuts down.
type Subscription struct {
	C    <-chan []byte
	ch   chan []byte
	note string
}

func (s *Subscription) wants(m message) bool {
	return s.note == "" || m.note == "" || m.note == s.note
}

type subscribeReq struct {
	sub   *Subscription
	after uint64
}

type noteEventReq struct {
	kind string
	note NoteEvent
}

// Option configures a Broker.
type Option func(*Broker)

// WithHeartbeat makes ServeHTTP send a comment line every d so idle
// connections survive proxies. Zero disables it.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) { b.heartbeat = d }
}

// WithBacklog sets how many recent events are kept for clients that
// reconnect with Last-Event-ID.
func WithBacklog(n int) Option {
	return func(b *Broker) { b.backlog = n }
}

// Broker fans repository changes out to SSE clients.
//
// A single goroutine owns the client set, the replay backlog, the graph
// throttle and the sequence counter; the methods talk to it over channels.
type Broker struct {
	graphMin  time.Duration
	heartbeat time.Duration
	backlog   int

	subscribeCh   chan subscribeReq
	unsubscribeCh chan *Subscription
	noteEventCh   chan noteEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits graph.updated at most once per
// graphThrottle for note changes.
func NewBroker(graphThrottle time.Duration, opts ...Option) *Broker {
	if graphThrottle <= 0 {
		graphThrottle = 2 * time.Second
	}

	b := &Broker{
		graphMin:      graphThrottle,
		backlog:       128,
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan *Subscription),
		noteEventCh:   make(chan noteEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[*Subscription]struct{})
	var (
		backlog   []message
		lastGraph time.Time
		seq       uint64
	)

	send := func(sub *Subscription, m message) {
		if !sub.wants(m) {
			return
		}
		select {
		case sub.ch <- m.raw:
		default:
			// Slow client; it can catch up through Last-Event-ID.
		}
	}

	emit := func(event, note string, data any) {
		payload, err := json.Marshal(data)
		if err != nil {
			return
		}
		seq++
		m := message{
			seq:  seq,
			note: note,
			raw:  []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, event, payload)),
		}
		if b.backlog > 0 {
			if len(backlog) == b.backlog {
				copy(backlog, backlog[1:])
				backlog = backlog[:len(backlog)-1]
			}
			backlog = append(backlog, m)
		}
		for sub := range clients {
			send(sub, m)
		}
	}

	for {
		select {
		case <-b.stopCh:
			for sub := range clients {
				close(sub.ch)
			}
			return

		case req := <-b.subscribeCh:
			if req.after > 0 {
				for _, m := range backlog {
					if m.seq > req.after {
						send(req.sub, m)
					}
				}
			}
			clients[req.sub] = struct{}{}

		case sub := <-b.unsubscribeCh:
			if _, ok := clients[sub]; ok {
				delete(clients, sub)
				close(sub.ch)
			}

		case req := <-b.noteEventCh:
			now := time.Now()
			switch req.kind {
			case KindCreated, KindUpdated, KindDeleted:
				emit("note."+req.kind, req.note.ID, req.note)
			case KindRebuilt:
				// A rebuild replaces the whole graph; clients refresh at once.
				emit("index.rebuilt", "", struct{}{})
				lastGraph = now
				emit("graph.updated", "", struct{}{})
				continue
			default:
				continue
			}

			if now.Sub(lastGraph) >= b.graphMin {
				lastGraph = now
				emit("graph.updated", "", struct{}{})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the broker and closes every subscription.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. With note set, only that note's events and
// the graph-wide events are delivered. Events newer than after still in the
// backlog are replayed first; zero replays nothing.
func (b *Broker) Subscribe(note string, after uint64) *Subscription {
	ch := make(chan []byte, 64)
	sub := &Subscription{C: ch, ch: ch, note: note}
	if b.closed.Load() {
		close(ch)
		return sub
	}

	select {
	case b.subscribeCh <- subscribeReq{sub: sub, after: after}:
	case <-b.stopped:
		close(ch)
	}
	return sub
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- sub:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// PublishNoteEvent publishes a note change and a throttled graph.updated
// event. KindRebuilt publishes index.rebuilt and an unthrottled
// graph.updated. Unknown kinds are dropped.
func (b *Broker) PublishNoteEvent(kind, id, path string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.noteEventCh <- noteEventReq{kind: kind, note: NoteEvent{ID: id, Path: path}}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). The optional
// ?note= query narrows the stream to one note; Last-Event-ID resumes it.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var after uint64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid Last-Event-ID", http.StatusBadRequest)
			return
		}
		after = n
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("retry: 3000\n\n"))
	flusher.Flush()

	sub := b.Subscribe(r.URL.Query().Get("note"), after)
	defer b.Unsubscribe(sub)

	var tick <-chan time.Time
	if b.heartbeat > 0 {
		t := time.NewTicker(b.heartbeat)
		defer t.Stop()
		tick = t.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
