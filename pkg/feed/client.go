package feed

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultMinBackoff = 500 * time.Millisecond
	DefaultMaxBackoff = 30 * time.Second

	readTimeout = 45 * time.Second
)

// Sink receives decoded prices. duel.Engine satisfies it.
type Sink interface {
	OnTick(prices map[string]float64)
}

// Client streams prices from a WebSocket feed into a Sink and reconnects with
// exponential backoff until its context is cancelled.
type Client struct {
	URL    string
	Sink   Sink
	Logger *zap.SugaredLogger

	MinBackoff time.Duration
	MaxBackoff time.Duration

	// Subscribe, when set, is written once after every successful dial
	Subscribe any

	Dialer *websocket.Dialer
}

func NewClient(url string, sink Sink, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		URL:        url,
		Sink:       sink,
		Logger:     logger,
		MinBackoff: DefaultMinBackoff,
		MaxBackoff: DefaultMaxBackoff,
		Dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Run blocks until ctx is cancelled. Connection failures are logged and retried.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.MinBackoff
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = c.MinBackoff
		}
		c.Logger.Warnw("feed_disconnected", "url", c.URL, "err", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, c.MaxBackoff)
	}
}

// session dials once and pumps messages until the connection fails.
// connected reports whether the dial succeeded.
func (c *Client) session(ctx context.Context) (connected bool, err error) {
	conn, _, err := c.Dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	c.Logger.Infow("feed_connected", "url", c.URL)

	// unblock ReadMessage on cancellation
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if c.Subscribe != nil {
		if err := conn.WriteJSON(c.Subscribe); err != nil {
			return true, err
		}
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		prices, err := Decode(msg)
		if err != nil {
			c.Logger.Debugw("feed_message_skipped", "err", err)
			continue
		}
		if len(prices) > 0 {
			c.Sink.OnTick(prices)
		}
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
