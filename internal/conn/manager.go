// Package conn owns the websocket session with the message server: dialing,
// keepalive, reconnection, and dispatch of inbound frames into the stores.
// The manager is the single writer of the connection state; everyone else
// observes it through State() or the conn.state bus topic.
package conn

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/treasuretool/treasured/internal/bus"
	"github.com/treasuretool/treasured/internal/model"
	"github.com/treasuretool/treasured/internal/wire"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Send when no session is established. The
// message is not queued; a reconnection attempt is kicked off instead.
var ErrNotConnected = errors.New("not connected to server")

// MessageSink receives inbound chat traffic.
type MessageSink interface {
	Save(ctx context.Context, msg *model.Message) error
	UpdateStatus(ctx context.Context, conversationKey, messageID string, status model.MessageStatus) error
}

// PresenceSink receives inbound presence changes.
type PresenceSink interface {
	UpdateStatus(userID string, presence model.Presence) error
}

// UserSource resolves the authenticated user whose id authenticates the
// socket.
type UserSource interface {
	CurrentUser(ctx context.Context) (*model.User, error)
}

// Options tunes the connection. Zero values select the defaults.
type Options struct {
	URL string // websocket endpoint, without the userId query

	Keepalive      time.Duration // ping interval, default 30s
	ReconnectDelay time.Duration // delay before re-dialing after a failure, default 5s
	// ReconnectMaxDelay enables capped exponential backoff when set above
	// ReconnectDelay; otherwise the delay is fixed.
	ReconnectMaxDelay time.Duration
	ReconnectJitter   float64       // extra random fraction of the delay, 0..1
	SendTimeout       time.Duration // write deadline for outbound frames, default 10s
	DialTimeout       time.Duration // handshake timeout, default 15s
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Keepalive <= 0 {
		out.Keepalive = 30 * time.Second
	}
	if out.ReconnectDelay <= 0 {
		out.ReconnectDelay = 5 * time.Second
	}
	if out.SendTimeout <= 0 {
		out.SendTimeout = 10 * time.Second
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 15 * time.Second
	}
	return out
}

// Manager runs the connection state machine.
type Manager struct {
	opts     Options
	users    UserSource
	messages MessageSink
	presence PresenceSink
	bus      *bus.Bus
	logger   *zap.Logger
	dialer   *websocket.Dialer

	mu            sync.Mutex
	state         State
	ws            *websocket.Conn
	gen           int // connection generation; callbacks from older sessions are ignored
	reconnect     *time.Timer
	attempts      int
	stopKeepalive chan struct{}
	closed        bool

	writeMu sync.Mutex
}

// NewManager creates a Manager in the Disconnected state.
func NewManager(opts Options, users UserSource, messages MessageSink, presence PresenceSink, b *bus.Bus, logger *zap.Logger) *Manager {
	normalized := opts.withDefaults()
	return &Manager{
		opts:     normalized,
		users:    users,
		messages: messages,
		presence: presence,
		bus:      b,
		logger:   logger,
		dialer:   &websocket.Dialer{HandshakeTimeout: normalized.DialTimeout},
		state:    State{Phase: Disconnected},
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts establishing a session. It is a no-op when already connected
// or connecting, and after Disconnect.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed || m.state.Phase == Connected || m.state.Phase == Connecting {
		m.mu.Unlock()
		return
	}
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	m.gen++
	gen := m.gen
	m.setStateLocked(State{Phase: Connecting})
	m.mu.Unlock()

	go m.dial(gen)
}

// Disconnect tears the session down for good: pending reconnects and the
// keepalive are cancelled and the socket is closed with a normal closure
// code. The manager ends in Disconnected and will not dial again.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closed = true
	m.gen++
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	if m.stopKeepalive != nil {
		close(m.stopKeepalive)
		m.stopKeepalive = nil
	}
	ws := m.ws
	m.ws = nil
	m.setStateLocked(State{Phase: Disconnected})
	m.mu.Unlock()

	if ws != nil {
		deadline := time.Now().Add(time.Second)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = ws.Close()
	}
	m.logger.Info("disconnected")
}

// Send encodes msg and transmits it on the established session. When no
// session exists the message is NOT queued: Send kicks off a connection
// attempt and returns ErrNotConnected immediately, leaving retry policy to
// the caller.
func (m *Manager) Send(ctx context.Context, msg *model.Message) error {
	m.mu.Lock()
	if m.state.Phase != Connected || m.ws == nil {
		m.mu.Unlock()
		m.Connect()
		return ErrNotConnected
	}
	ws := m.ws
	gen := m.gen
	m.mu.Unlock()

	raw, err := wire.Encode(wire.FrameChatMessage, msg)
	if err != nil {
		return fmt.Errorf("send %s: %w", msg.ID, err)
	}

	m.writeMu.Lock()
	_ = ws.SetWriteDeadline(time.Now().Add(m.opts.SendTimeout))
	err = ws.WriteMessage(websocket.TextMessage, raw)
	m.writeMu.Unlock()
	if err != nil {
		m.fail(gen, fmt.Sprintf("write: %v", err))
		return fmt.Errorf("send %s: %w", msg.ID, err)
	}
	return nil
}

func (m *Manager) dial(gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DialTimeout)
	defer cancel()

	user, err := m.users.CurrentUser(ctx)
	if err != nil {
		m.fail(gen, fmt.Sprintf("resolve user: %v", err))
		return
	}

	endpoint := m.opts.URL + "?userId=" + url.QueryEscape(user.ID)
	ws, _, err := m.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		m.fail(gen, fmt.Sprintf("dial: %v", err))
		return
	}

	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		_ = ws.Close()
		return
	}
	m.ws = ws
	m.attempts = 0
	stop := make(chan struct{})
	m.stopKeepalive = stop
	m.setStateLocked(State{Phase: Connected})
	m.mu.Unlock()

	m.logger.Info("connected", zap.String("user_id", user.ID))

	pongWait := m.opts.Keepalive * 2
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go m.readLoop(gen, ws)
	go m.keepalive(gen, ws, stop)
}

func (m *Manager) readLoop(gen int, ws *websocket.Conn) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			m.fail(gen, fmt.Sprintf("read: %v", err))
			return
		}
		frame, err := wire.Decode(raw)
		if err != nil {
			// Malformed frames are dropped; they never affect the session.
			m.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		m.dispatch(frame)
	}
}

func (m *Manager) dispatch(frame *wire.Frame) {
	ctx := context.Background()
	switch frame.Type {
	case wire.FrameChatMessage:
		if err := m.messages.Save(ctx, frame.Message); err != nil {
			m.logger.Error("failed to store inbound message",
				zap.String("message_id", frame.Message.ID), zap.Error(err))
		}
	case wire.FrameOnlineMessage:
		if err := m.presence.UpdateStatus(frame.Status.UserID, frame.Status.Presence); err != nil {
			m.logger.Debug("presence update dropped",
				zap.String("user_id", frame.Status.UserID), zap.Error(err))
		}
	case wire.FrameReadReceipt:
		if err := m.messages.UpdateStatus(ctx, frame.Receipt.ConversationID, frame.Receipt.MessageID, model.StatusRead); err != nil {
			m.logger.Error("failed to apply read receipt",
				zap.String("message_id", frame.Receipt.MessageID), zap.Error(err))
		}
	}
}

func (m *Manager) keepalive(gen int, ws *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(m.opts.Keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(m.opts.SendTimeout)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				m.fail(gen, fmt.Sprintf("ping: %v", err))
				return
			}
		case <-stop:
			return
		}
	}
}

// fail records a session failure and schedules the next dial. Calls carrying
// a stale generation (an already-replaced session) are ignored.
func (m *Manager) fail(gen int, reason string) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.ws != nil {
		_ = m.ws.Close()
		m.ws = nil
	}
	if m.stopKeepalive != nil {
		close(m.stopKeepalive)
		m.stopKeepalive = nil
	}
	m.setStateLocked(State{Phase: Failed, Reason: reason})
	m.attempts++
	delay := m.nextDelay(m.attempts)
	m.reconnect = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.reconnect = nil
		m.mu.Unlock()
		m.Connect()
	})
	m.mu.Unlock()

	m.logger.Warn("connection lost",
		zap.String("reason", reason), zap.Duration("retry_in", delay))
}

// nextDelay is the reconnect schedule: fixed by default, capped exponential
// with jitter when a max delay above the base is configured.
func (m *Manager) nextDelay(attempt int) time.Duration {
	base := m.opts.ReconnectDelay
	maxDelay := m.opts.ReconnectMaxDelay
	delay := base
	if maxDelay > base {
		for i := 1; i < attempt && delay < maxDelay; i++ {
			delay *= 2
		}
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	if m.opts.ReconnectJitter > 0 {
		delay += time.Duration(rand.Float64() * m.opts.ReconnectJitter * float64(delay))
	}
	return delay
}

// setStateLocked updates the observable state and publishes it. Caller holds
// m.mu.
func (m *Manager) setStateLocked(next State) {
	if m.state == next {
		return
	}
	m.state = next
	m.bus.Publish(bus.Event{
		Topic:     bus.TopicConnState,
		Timestamp: time.Now(),
		Payload:   next,
	})
}
