package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/stanstork/his-notify/internal/models"
)

type WebSocketOptions struct {
	// URL of the push endpoint, for example ws://localhost:8080/api/ws.
	URL   string
	Token string
	// ReadTimeout closes a silent connection; the server pings well within it.
	ReadTimeout time.Duration
	// BaseReconnectDelay and MaxReconnectDelay bound the reconnect backoff.
	BaseReconnectDelay time.Duration
	MaxReconnectDelay  time.Duration
	Dialer             *websocket.Dialer
}

// WebSocketTransport receives notifications pushed by the server and
// reconnects with capped exponential backoff until Disconnect.
type WebSocketTransport struct {
	listeners

	opts   WebSocketOptions
	logger zerolog.Logger

	mu        sync.Mutex
	connected bool
	conn      *websocket.Conn
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewWebSocketTransport(opts WebSocketOptions, logger zerolog.Logger) *WebSocketTransport {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 75 * time.Second
	}
	if opts.BaseReconnectDelay <= 0 {
		opts.BaseReconnectDelay = 500 * time.Millisecond
	}
	if opts.MaxReconnectDelay <= 0 {
		opts.MaxReconnectDelay = 30 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &WebSocketTransport{
		opts:   opts,
		logger: logger.With().Str("component", "websocket_transport").Logger(),
	}
}

// Connect dials the server once and returns the dial error, if any. Later
// failures are retried in the background.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return nil
	}

	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.conn = conn
	t.cancel = cancel
	t.done = make(chan struct{})
	t.connected = true

	go t.run(loopCtx, conn, t.done)
	t.logger.Info().Str("url", t.opts.URL).Msg("websocket transport connected")
	return nil
}

// Disconnect closes the connection, stops reconnecting and drops every
// listener. It must not be called from a listener.
func (t *WebSocketTransport) Disconnect() {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		t.clear()
		return
	}
	t.connected = false
	cancel, done, conn := t.cancel, t.done, t.conn
	t.conn = nil
	t.mu.Unlock()

	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	<-done
	t.clear()
	t.logger.Info().Msg("websocket transport disconnected")
}

func (t *WebSocketTransport) OnNotification(l Listener) {
	t.add(l)
}

func (t *WebSocketTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *WebSocketTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if t.opts.Token != "" {
		header.Set("Authorization", "Bearer "+t.opts.Token)
	}
	conn, resp, err := t.opts.Dialer.DialContext(ctx, t.opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s: status %d", t.opts.URL, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "dial %s", t.opts.URL)
	}
	return conn, nil
}

func (t *WebSocketTransport) run(ctx context.Context, conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		err := t.read(conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		t.logger.Warn().Err(err).Msg("connection lost, reconnecting")

		conn, err = t.reconnect(ctx)
		if err != nil {
			return
		}
		t.mu.Lock()
		if !t.connected {
			t.mu.Unlock()
			_ = conn.Close()
			return
		}
		t.conn = conn
		t.mu.Unlock()
		t.logger.Info().Msg("websocket transport reconnected")
	}
}

// read delivers frames in arrival order until the connection fails.
func (t *WebSocketTransport) read(conn *websocket.Conn) error {
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(t.opts.ReadTimeout)) }
	extend()
	conn.SetPingHandler(func(data string) error {
		extend()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		var n models.Notification
		if err := conn.ReadJSON(&n); err != nil {
			return err
		}
		extend()
		if n.ID == "" {
			t.logger.Warn().Msg("dropping frame without notification id")
			continue
		}
		t.deliver(n)
	}
}

func (t *WebSocketTransport) reconnect(ctx context.Context) (*websocket.Conn, error) {
	b := retry.NewExponential(t.opts.BaseReconnectDelay)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithCappedDuration(t.opts.MaxReconnectDelay, b)

	var conn *websocket.Conn
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		c, err := t.dial(ctx)
		if err != nil {
			t.logger.Debug().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	return conn, err
}
