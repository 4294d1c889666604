package diag

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/stream/metrics"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func subscribe(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(SubscribeMsg{Type: TypeSubscribe, ProtocolVersion: Version}))
}

func readStats(t *testing.T, conn *websocket.Conn) StatsMsg {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var m StatsMsg
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestHub_StreamsSnapshots(t *testing.T) {
	h := NewHub(nil, 0)
	srv := httptest.NewServer(h.WSHandler())
	defer srv.Close()
	defer h.Close()

	h.Publish(metrics.Snapshot{Tick: 1, Viewer: cell.Coord{X: 2, Y: 3}})

	conn := dial(t, srv)
	subscribe(t, conn)

	first := readStats(t, conn)
	assert.Equal(t, TypeStats, first.Type)
	assert.Equal(t, uint64(1), first.Tick)
	assert.Equal(t, cell.Coord{X: 2, Y: 3}, first.Stats.Viewer)

	h.Publish(metrics.Snapshot{Tick: 2, Tiers: map[string]metrics.TierCounts{"NEAR": {Loaded: 9}}})
	second := readStats(t, conn)
	assert.Equal(t, uint64(2), second.Tick)
	assert.Equal(t, 9, second.Stats.Tier(cell.Near).Loaded)
	assert.Equal(t, 1, h.Stats().Clients)
}

func TestHub_RejectsBadSubscribe(t *testing.T) {
	h := NewHub(nil, 0)
	srv := httptest.NewServer(h.WSHandler())
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(SubscribeMsg{Type: TypeSubscribe, ProtocolVersion: Version + 1}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	h := NewHub(nil, 0)
	srv := httptest.NewServer(h.WSHandler())
	defer srv.Close()

	h.Publish(metrics.Snapshot{Tick: 1})
	conn := dial(t, srv)
	subscribe(t, conn)
	readStats(t, conn)

	h.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	h.Publish(metrics.Snapshot{Tick: 2})
	s, _ := h.Latest()
	assert.Equal(t, uint64(1), s.Tick, "publishes after Close are ignored")
}

func TestHub_RateLimitKeepsLatest(t *testing.T) {
	h := NewHub(nil, 1)
	for tick := uint64(1); tick <= 5; tick++ {
		h.Publish(metrics.Snapshot{Tick: tick})
	}
	st := h.Stats()
	assert.Equal(t, uint64(1), st.Published)
	assert.Equal(t, uint64(4), st.Skipped)

	s, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(5), s.Tick)
}

func TestStatsHandler(t *testing.T) {
	h := NewHub(nil, 0)

	rec := httptest.NewRecorder()
	h.StatsHandler()(rec, httptest.NewRequest(http.MethodGet, "/debug/stats", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.Publish(metrics.Snapshot{Tick: 7, QueueLen: 3})
	rec = httptest.NewRecorder()
	h.StatsHandler()(rec, httptest.NewRequest(http.MethodGet, "/debug/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got metrics.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, uint64(7), got.Tick)
	assert.Equal(t, 3, got.QueueLen)
}

func TestWSHandler_LoopbackOnly(t *testing.T) {
	h := NewHub(nil, 0)
	req := httptest.NewRequest(http.MethodGet, "/v1/diag", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	rec := httptest.NewRecorder()
	h.WSHandler()(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSendLatest_DropsOldest(t *testing.T) {
	ch := make(chan []byte, 2)
	sendLatest(ch, []byte("a"))
	sendLatest(ch, []byte("b"))
	sendLatest(ch, []byte("c"))
	assert.Equal(t, "b", string(<-ch))
	assert.Equal(t, "c", string(<-ch))
}
