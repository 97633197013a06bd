package websocket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mglvsky/pairscan/pkg/types"
)

// Manager owns a single WebSocket session to the market-data feed. Each
// market monitor runs its own Manager; sessions are never shared.
type Manager struct {
	url             string
	conn            *websocket.Conn
	logger          *zap.Logger
	redial          *redialer
	config          Config
	eventChan       chan *types.StreamEvent
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	mu              sync.RWMutex
	subscribed      map[string]bool // tracks subscribed token IDs
	connected       atomic.Bool
	reconnects      atomic.Int64
	connectionStart atomic.Int64 // Unix timestamp of connection start
}

// Config holds WebSocket manager configuration.
type Config struct {
	URL                   string
	DialTimeout           time.Duration
	PingInterval          time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectBackoffMult  float64
	EventBufferSize       int
	Logger                *zap.Logger
}

// New creates a new WebSocket manager.
func New(cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	policy := retryPolicy{
		initial: cfg.ReconnectInitialDelay,
		max:     cfg.ReconnectMaxDelay,
		mult:    cfg.ReconnectBackoffMult,
	}

	return &Manager{
		url:        cfg.URL,
		logger:     cfg.Logger,
		redial:     newRedialer(policy, cfg.Logger),
		config:     cfg,
		eventChan:  make(chan *types.StreamEvent, cfg.EventBufferSize),
		ctx:        ctx,
		cancel:     cancel,
		subscribed: make(map[string]bool),
	}
}

// Start dials the feed and launches the read, ping and reconnect loops.
// A failed initial dial is returned but not fatal: the reconnect loop
// keeps retrying, and pending subscriptions replay once it succeeds.
func (m *Manager) Start() error {
	m.logger.Info("websocket-manager-starting", zap.String("url", m.url))

	err := m.connect(m.ctx)
	if err == nil {
		m.wg.Add(1)
		go m.readLoop()
	}

	m.wg.Add(2)
	go m.pingLoop()
	go m.reconnectLoop()

	if err != nil {
		return fmt.Errorf("initial connection: %w", err)
	}
	return nil
}

// readDeadline is how long the connection may stay silent before it is
// declared dead: twice the heartbeat interval.
func (m *Manager) readDeadline() time.Time {
	return time.Now().Add(2 * m.config.PingInterval)
}

// connect establishes a WebSocket connection.
func (m *Manager) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: m.config.DialTimeout,
	}

	m.logger.Info("connecting-to-websocket", zap.String("url", m.url))

	conn, _, err := dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	// Any traffic counts as liveness, pongs included.
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(m.readDeadline())
	})
	if err := conn.SetReadDeadline(m.readDeadline()); err != nil {
		conn.Close()
		return fmt.Errorf("set read deadline: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	m.connectionStart.Store(time.Now().Unix())
	if m.connected.CompareAndSwap(false, true) {
		ActiveConnections.Inc()
	}

	m.logger.Info("websocket-connected")

	return nil
}

// markDisconnected flips the connection state and records metrics once
// per disconnect.
func (m *Manager) markDisconnected() {
	if !m.connected.CompareAndSwap(true, false) {
		return
	}

	ActiveConnections.Dec()

	startTime := m.connectionStart.Load()
	if startTime > 0 {
		ConnectionDuration.Observe(time.Since(time.Unix(startTime, 0)).Seconds())
	}
}

// Subscribe subscribes to a list of token IDs.
func (m *Manager) Subscribe(ctx context.Context, tokenIDs []string) error {
	if len(tokenIDs) == 0 {
		return nil
	}

	m.mu.Lock()

	newTokens := make([]string, 0, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		if !m.subscribed[tokenID] {
			newTokens = append(newTokens, tokenID)
			m.subscribed[tokenID] = true
		}
	}

	if len(newTokens) == 0 {
		m.mu.Unlock()
		m.logger.Debug("all-tokens-already-subscribed")
		return nil
	}

	// The feed distinguishes the initial channel subscription from
	// later additions.
	var subscribeMsg map[string]interface{}
	isInitialSubscription := len(m.subscribed) == len(newTokens)

	if isInitialSubscription {
		subscribeMsg = map[string]interface{}{
			"assets_ids": newTokens,
			"type":       "market",
		}
	} else {
		subscribeMsg = map[string]interface{}{
			"assets_ids": newTokens,
			"operation":  "subscribe",
		}
	}

	totalSubscribed := len(m.subscribed)
	conn := m.conn
	m.mu.Unlock()

	// No connection yet: keep the tokens registered and let the
	// reconnect loop replay them once the dial succeeds.
	if conn == nil {
		SubscriptionCount.Set(float64(totalSubscribed))
		m.logger.Info("subscription-deferred-until-connect",
			zap.Int("count", len(newTokens)))
		return nil
	}

	// Network I/O without holding the lock.
	err := conn.WriteJSON(subscribeMsg)
	if err != nil {
		m.mu.Lock()
		for _, tokenID := range newTokens {
			delete(m.subscribed, tokenID)
		}
		totalSubscribed = len(m.subscribed)
		m.mu.Unlock()

		SubscriptionCount.Set(float64(totalSubscribed))
		return fmt.Errorf("write subscribe message: %w", err)
	}

	SubscriptionCount.Set(float64(totalSubscribed))

	m.logger.Info("subscribed-to-tokens",
		zap.Int("new-count", len(newTokens)),
		zap.Int("total-count", totalSubscribed))

	return nil
}

// Unsubscribe unsubscribes from a list of token IDs.
func (m *Manager) Unsubscribe(ctx context.Context, tokenIDs []string) (err error) {
	if len(tokenIDs) == 0 {
		return nil
	}

	m.mu.Lock()

	tokensToUnsubscribe := make([]string, 0, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		if m.subscribed[tokenID] {
			tokensToUnsubscribe = append(tokensToUnsubscribe, tokenID)
			delete(m.subscribed, tokenID)
		}
	}

	if len(tokensToUnsubscribe) == 0 {
		m.mu.Unlock()
		m.logger.Debug("no-tokens-to-unsubscribe")
		return nil
	}

	unsubscribeMsg := map[string]interface{}{
		"assets_ids": tokensToUnsubscribe,
		"operation":  "unsubscribe",
	}

	totalSubscribed := len(m.subscribed)
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		SubscriptionCount.Set(float64(totalSubscribed))
		return nil
	}

	err = conn.WriteJSON(unsubscribeMsg)
	if err != nil {
		m.mu.Lock()
		for _, tokenID := range tokensToUnsubscribe {
			m.subscribed[tokenID] = true
		}
		totalSubscribed = len(m.subscribed)
		m.mu.Unlock()

		SubscriptionCount.Set(float64(totalSubscribed))
		return fmt.Errorf("write unsubscribe message: %w", err)
	}

	SubscriptionCount.Set(float64(totalSubscribed))
	UnsubscriptionsTotal.Inc()

	m.logger.Info("unsubscribed-from-tokens",
		zap.Int("count", len(tokensToUnsubscribe)),
		zap.Int("remaining-count", totalSubscribed))

	return nil
}

// readLoop reads messages from the WebSocket until the connection drops.
func (m *Manager) readLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		m.mu.RLock()
		conn := m.conn
		m.mu.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			m.logger.Warn("read-error", zap.Error(err))
			m.markDisconnected()
			return
		}

		conn.SetReadDeadline(m.readDeadline())

		for _, event := range m.decodeEvents(message) {
			event.ReceivedAt = time.Now()

			switch event.EventType {
			case types.EventBook, types.EventPriceChange,
				types.EventLastTradePrice, types.EventTickSizeChange:
				EventsReceivedTotal.WithLabelValues(event.EventType).Inc()
			default:
				UnknownEventsTotal.Inc()
				m.logger.Debug("unknown-event-type",
					zap.String("event-type", event.EventType))
				continue
			}

			select {
			case m.eventChan <- event:
			default:
				m.logger.Warn("event-channel-full",
					zap.String("event-type", event.EventType))
				EventsDroppedTotal.WithLabelValues("channel_full").Inc()
			}
		}
	}
}

// decodeEvents parses a raw frame. The feed sends either a single event
// object or an array of them; control frames and heartbeats decode to
// nothing.
func (m *Manager) decodeEvents(message []byte) []*types.StreamEvent {
	trimmed := string(message)
	if trimmed == "" || trimmed == "[]" || trimmed == "PONG" {
		return nil
	}

	var events []types.StreamEvent
	if err := json.Unmarshal(message, &events); err == nil {
		out := make([]*types.StreamEvent, 0, len(events))
		for i := range events {
			out = append(out, &events[i])
		}
		return out
	}

	var single types.StreamEvent
	if err := json.Unmarshal(message, &single); err == nil && single.EventType != "" {
		return []*types.StreamEvent{&single}
	}

	previewLen := len(trimmed)
	if previewLen > 100 {
		previewLen = 100
	}
	m.logger.Debug("websocket-unparseable-message",
		zap.Int("bytes", len(message)),
		zap.String("preview", trimmed[:previewLen]))

	return nil
}

// pingLoop sends periodic PING messages.
func (m *Manager) pingLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if !m.connected.Load() {
				continue
			}

			m.mu.RLock()
			conn := m.conn
			m.mu.RUnlock()

			if conn == nil {
				continue
			}

			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second))
			if err != nil {
				m.logger.Warn("ping-error", zap.Error(err))
			}
		}
	}
}

// reconnectLoop re-establishes the session when the connection drops and
// replays all subscriptions.
func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		if m.connected.Load() {
			time.Sleep(time.Second)
			continue
		}

		m.logger.Warn("connection-lost-initiating-reconnect")

		err := m.redial.run(m.ctx, m.connect)
		if err != nil {
			if err == context.Canceled {
				return
			}
			m.logger.Error("reconnection-failed", zap.Error(err))
			continue
		}

		m.reconnects.Add(1)

		err = m.resubscribeAll(m.ctx)
		if err != nil {
			m.logger.Error("resubscribe-failed", zap.Error(err))
			m.markDisconnected()
			continue
		}

		m.logger.Info("reconnection-complete-restarting-read-loop")

		m.wg.Add(1)
		go m.readLoop()
	}
}

// resubscribeAll replays the full subscription set after a reconnect.
func (m *Manager) resubscribeAll(ctx context.Context) error {
	m.mu.RLock()
	tokenIDs := make([]string, 0, len(m.subscribed))
	for tokenID := range m.subscribed {
		tokenIDs = append(tokenIDs, tokenID)
	}
	m.mu.RUnlock()

	if len(tokenIDs) == 0 {
		return nil
	}

	subscribeMsg := map[string]interface{}{
		"assets_ids": tokenIDs,
		"type":       "market",
	}

	m.mu.RLock()
	err := m.conn.WriteJSON(subscribeMsg)
	m.mu.RUnlock()

	if err != nil {
		return fmt.Errorf("write resubscribe message: %w", err)
	}

	m.logger.Info("resubscribed-to-all-tokens", zap.Int("count", len(tokenIDs)))

	return nil
}

// EventChan returns the channel delivering parsed stream events.
func (m *Manager) EventChan() <-chan *types.StreamEvent {
	return m.eventChan
}

// Connected reports whether the session is currently up.
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

// ReconnectCount returns how many times the session has reconnected.
func (m *Manager) ReconnectCount() int {
	return int(m.reconnects.Load())
}

// Close gracefully shuts down the session.
func (m *Manager) Close() error {
	m.logger.Info("closing-websocket-manager")

	m.cancel()

	m.mu.RLock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.mu.RUnlock()

	m.wg.Wait()

	close(m.eventChan)

	m.markDisconnected()

	m.logger.Info("websocket-manager-closed")

	return nil
}
