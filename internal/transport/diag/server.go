// Package diag streams coordinator snapshots to overlay clients over a
// websocket and serves the latest one as JSON.
package diag

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"worldstream.ai/internal/stream/metrics"
)

const outQueue = 4

type subscriber struct {
	out  chan []byte
	done chan struct{}
}

// Hub fans snapshots out to connected clients. Publish never blocks the tick
// loop: slow clients only ever see the newest frame.
type Hub struct {
	log      *slog.Logger
	limiter  *rate.Limiter
	upgrader websocket.Upgrader

	mu        sync.Mutex
	subs      map[*subscriber]struct{}
	latest    []byte
	snap      metrics.Snapshot
	hasSnap   bool
	closed    bool
	published uint64
	skipped   uint64
}

// NewHub broadcasts at most maxHz frames per second; maxHz <= 0 disables the
// limit.
func NewHub(logger *slog.Logger, maxHz float64) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if maxHz > 0 {
		lim = rate.NewLimiter(rate.Limit(maxHz), 1)
	}
	return &Hub{
		log:     logger.With("component", "diag"),
		limiter: lim,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only, see WSHandler
		},
		subs: map[*subscriber]struct{}{},
	}
}

// Publish records s as the latest snapshot and broadcasts it unless the rate
// limit says otherwise.
func (h *Hub) Publish(s metrics.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.snap = s
	h.hasSnap = true
	if !h.limiter.Allow() {
		h.skipped++
		return
	}
	b, err := json.Marshal(StatsMsg{Type: TypeStats, Tick: s.Tick, Stats: s})
	if err != nil {
		h.log.Error("encode stats", "err", err)
		return
	}
	h.latest = b
	h.published++
	for sub := range h.subs {
		sendLatest(sub.out, b)
	}
}

// Latest returns the most recent snapshot, rate limited or not.
func (h *Hub) Latest() (metrics.Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap, h.hasSnap
}

type Stats struct {
	Clients   int    `json:"clients"`
	Published uint64 `json:"published"`
	Skipped   uint64 `json:"skipped"`
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Clients: len(h.subs), Published: h.published, Skipped: h.skipped}
}

// Close disconnects every client. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.done)
		delete(h.subs, sub)
	}
}

func (h *Hub) join() (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	sub := &subscriber{out: make(chan []byte, outQueue), done: make(chan struct{})}
	h.subs[sub] = struct{}{}
	if h.latest != nil {
		sub.out <- h.latest
	}
	return sub, true
}

func (h *Hub) leave(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.done)
	}
}

// StatsHandler serves the latest snapshot as JSON.
func (h *Hub) StatsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s, ok := h.Latest()
		if !ok {
			http.Error(rw, "no tick yet", http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s)
	}
}

func (h *Hub) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil || sub.Type != TypeSubscribe || sub.ProtocolVersion != Version {
			closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
			return
		}

		s, ok := h.join()
		if !ok {
			closeWith(conn, websocket.CloseGoingAway, "shutting down")
			return
		}
		defer h.leave(s)
		h.log.Debug("diag client joined", "remote", r.RemoteAddr)

		writeDone := make(chan struct{})
		go func() {
			defer close(writeDone)
			for {
				select {
				case <-s.done:
					closeWith(conn, websocket.CloseGoingAway, "bye")
					_ = conn.Close()
					return
				case b := <-s.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()

		// Clients only ever close; anything else they send is ignored.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		h.leave(s)
		select {
		case <-writeDone:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

// sendLatest enqueues b, dropping the oldest frame when the queue is full.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
