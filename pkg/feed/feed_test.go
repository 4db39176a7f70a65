package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want map[string]float64
	}{
		{"wrapped", `{"prices":{"BTCUSDT":65000.5,"ETHUSDT":"3200.25"}}`, map[string]float64{"BTCUSDT": 65000.5, "ETHUSDT": 3200.25}},
		{"bare map", `{"BTC":1.5}`, map[string]float64{"BTC": 1.5}},
		{"ticker", `{"s":"SOLUSDT","c":"151.2"}`, map[string]float64{"SOLUSDT": 151.2}},
		{"ticker array", ` [{"s":"SOLUSDT","c":"151.2"},{"s":"BTCUSDT","c":65000}] `, map[string]float64{"SOLUSDT": 151.2, "BTCUSDT": 65000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.msg))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	for _, msg := range []string{``, `nope`, `{"type":"subscribed"}`, `{"prices":[1,2]}`, `{"prices":{"BTC":"abc"}}`} {
		_, err := Decode([]byte(msg))
		require.ErrorIs(t, err, ErrUnrecognizedMessage, msg)
	}
}

type sink struct {
	mu    sync.Mutex
	ticks []map[string]float64
}

func (s *sink) OnTick(p map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, p)
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ticks)
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestClient_StreamsAndReconnects(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		dials.Add(1)

		// every connection starts with the subscribe frame
		var sub map[string]string
		if err := conn.ReadJSON(&sub); err != nil || sub["op"] != "subscribe" {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"prices":{"TESTUSDT":101}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"TESTUSDT":102}`))
		// drop the connection to force a reconnect
	}))
	defer ts.Close()

	s := &sink{}
	c := NewClient(wsURL(ts), s, nil)
	c.MinBackoff = 10 * time.Millisecond
	c.MaxBackoff = 20 * time.Millisecond
	c.Subscribe = map[string]string{"op": "subscribe"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return s.count() >= 4 }, 5*time.Second, 10*time.Millisecond)
	require.GreaterOrEqual(t, dials.Load(), int32(2))

	s.mu.Lock()
	require.Equal(t, map[string]float64{"TESTUSDT": 101}, s.ticks[0])
	require.Equal(t, map[string]float64{"TESTUSDT": 102}, s.ticks[1])
	s.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop")
	}
}

func TestClient_StopsWhileDisconnected(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/none", &sink{}, nil)
	c.MinBackoff = time.Hour
	c.MaxBackoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.Run(ctx), context.DeadlineExceeded)
}

func TestNextBackoff(t *testing.T) {
	require.Equal(t, 2*time.Second, nextBackoff(time.Second, 30*time.Second))
	require.Equal(t, 30*time.Second, nextBackoff(20*time.Second, 30*time.Second))
}
