package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"telemetry-backbone/src/helpers"
	"telemetry-backbone/src/interfaces"
	"telemetry-backbone/src/logger"
	"telemetry-backbone/src/metrics"
	"telemetry-backbone/src/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	topicAll     = "all"
	fanOutLimit  = 64
	closeTimeout = time.Second
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrManagerStopped    = errors.New("connection manager stopped")
)

// Socket is the part of *websocket.Conn the manager writes to.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

var _ interfaces.IBroadcaster = (*ConnectionManager)(nil)

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

type connection struct {
	id        string
	socket    Socket
	createdAt time.Time

	// one writer at a time per socket
	writeMu sync.Mutex

	mu            sync.Mutex
	subscriptions map[string]struct{}
	lastLiveness  time.Time

	sent    atomic.Uint64
	errs    atomic.Uint64
	suspect atomic.Bool
}

func (c *connection) write(data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		c.socket.SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.socket.WriteMessage(websocket.TextMessage, data)
}

// wants reports whether a frame on topic should go to this connection.
// Untopiced frames go to everyone.
func (c *connection) wants(topic string) bool {
	if topic == "" || topic == topicAll {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, all := c.subscriptions[topicAll]
	_, ok := c.subscriptions[topic]
	return all || ok
}

func (c *connection) touch(now time.Time) {
	c.mu.Lock()
	if now.After(c.lastLiveness) {
		c.lastLiveness = now
	}
	c.mu.Unlock()
}

func (c *connection) info() models.MConnectionInfo {
	c.mu.Lock()
	subs := make([]string, 0, len(c.subscriptions))
	for s := range c.subscriptions {
		subs = append(subs, s)
	}
	last := c.lastLiveness
	c.mu.Unlock()
	sort.Strings(subs)

	return models.MConnectionInfo{
		ID:             c.id,
		Subscriptions:  subs,
		CreatedAt:      c.createdAt,
		LastLivenessAt: last,
		SentCount:      c.sent.Load(),
		ErrorCount:     c.errs.Load(),
		Suspect:        c.suspect.Load(),
	}
}

// -----------------------------------------------------------------------------
// ConnectionManager
// -----------------------------------------------------------------------------

type queued struct {
	payload interface{}
	topic   string
	seq     uint64
}

// ConnectionManager owns the client registry and the broadcast queue. The
// registry is guarded by one mutex that is never held during socket I/O.
type ConnectionManager struct {
	cfg     models.MWebSocketConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	conns   map[string]*connection
	stopped bool

	queue chan queued
	seq   atomic.Uint64

	enqueued   atomic.Uint64
	dropped    atomic.Uint64
	delivered  atomic.Uint64
	sendErrors atomic.Uint64
	evicted    atomic.Uint64
	rejected   atomic.Uint64

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	loops       sync.WaitGroup
}

func NewConnectionManager(cfg models.MWebSocketConfig, log *logger.Logger, m *metrics.Metrics) *ConnectionManager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 100
	}
	if log == nil {
		log = logger.NewDiscardLogger("connections")
	}
	return &ConnectionManager{
		cfg:     cfg,
		logger:  log,
		metrics: m,
		now:     time.Now,
		conns:   make(map[string]*connection),
		queue:   make(chan queued, cfg.QueueSize),
	}
}

func (m *ConnectionManager) sendTimeout() time.Duration {
	return time.Duration(m.cfg.SendTimeoutMs) * time.Millisecond
}

// -----------------------------------------------------------------------------

// Connect registers socket and sends the welcome frame. At the cap the socket
// is closed with code 1013 (try again later) and a *helpers.CapacityError is returned.
func (m *ConnectionManager) Connect(socket Socket) (string, error) {
	now := m.now()

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		m.closeSocket(socket, websocket.CloseGoingAway, "shutting down")
		return "", ErrManagerStopped
	}
	if len(m.conns) >= m.cfg.MaxConnections {
		m.mu.Unlock()
		m.rejected.Add(1)
		if m.metrics != nil {
			m.metrics.ConnectionsTotal.WithLabelValues("rejected").Inc()
		}
		m.closeSocket(socket, websocket.CloseTryAgainLater, "capacity")
		m.logger.Warning("Connection rejected: limit %d reached", m.cfg.MaxConnections)
		return "", helpers.NewCapacityError(m.cfg.MaxConnections)
	}

	c := &connection{
		id:            uuid.NewString(),
		socket:        socket,
		createdAt:     now,
		lastLiveness:  now,
		subscriptions: map[string]struct{}{topicAll: {}},
	}
	// held until the welcome is out so no broadcast frame overtakes it
	c.writeMu.Lock()
	m.conns[c.id] = c
	count := len(m.conns)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ConnectionsTotal.WithLabelValues("accepted").Inc()
		m.metrics.Connections.Set(float64(count))
	}

	welcome, _ := json.Marshal(models.MWelcomeMessage{
		Type:              "connected",
		ClientID:          c.id,
		ServerTime:        now.UnixMilli(),
		UpdateFrequencyHz: m.cfg.UpdateFrequencyHz,
	})
	if timeout := m.sendTimeout(); timeout > 0 {
		socket.SetWriteDeadline(time.Now().Add(timeout))
	}
	err := socket.WriteMessage(websocket.TextMessage, welcome)
	c.writeMu.Unlock()
	if err != nil {
		m.Disconnect(c.id)
		return "", helpers.NewSendError(c.id, err)
	}

	m.logger.WithFields(logger.Fields{"client_id": c.id}).Info("Client connected (%d/%d)", count, m.cfg.MaxConnections)
	return c.id, nil
}

func (m *ConnectionManager) closeSocket(socket Socket, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	socket.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
	socket.Close()
}

// -----------------------------------------------------------------------------

// Disconnect removes and closes the connection. Unknown ids are ignored.
func (m *ConnectionManager) Disconnect(id string) bool {
	m.mu.Lock()
	c, ok := m.conns[id]
	delete(m.conns, id)
	count := len(m.conns)
	m.mu.Unlock()

	if !ok {
		return false
	}
	c.socket.Close()
	if m.metrics != nil {
		m.metrics.Connections.Set(float64(count))
	}
	m.logger.WithFields(logger.Fields{"client_id": id}).Info(
		"Client disconnected: sent=%d errors=%d", c.sent.Load(), c.errs.Load())
	return true
}

// -----------------------------------------------------------------------------

// Broadcast offers payload to the queue without blocking. When the queue is
// full the frame is dropped, counted, and false is returned. The sequence
// number is consumed either way.
func (m *ConnectionManager) Broadcast(payload interface{}, topic string) bool {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return false
	}

	item := queued{payload: payload, topic: topic, seq: m.seq.Add(1)}
	select {
	case m.queue <- item:
		m.enqueued.Add(1)
		if m.metrics != nil {
			m.metrics.BroadcastEnqueued.Inc()
		}
		return true
	default:
		m.dropped.Add(1)
		if m.metrics != nil {
			m.metrics.BroadcastDropped.Inc()
		}
		return false
	}
}

// -----------------------------------------------------------------------------

// Start launches the broadcast consumer and the heartbeat loop.
func (m *ConnectionManager) Start(ctx context.Context) {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.loops.Add(2)
	go func() {
		defer m.loops.Done()
		m.consume(runCtx)
	}()
	go func() {
		defer m.loops.Done()
		m.heartbeatLoop(runCtx)
	}()
}

func (m *ConnectionManager) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-m.queue:
			m.fanOut(item)
		}
	}
}

// fanOut delivers one frame to every interested connection concurrently and
// returns once every send finished or timed out.
func (m *ConnectionManager) fanOut(item queued) {
	data, err := json.Marshal(models.MBroadcastMessage{
		Type:       "metrics",
		Topic:      item.topic,
		Seq:        item.seq,
		ServerTime: m.now().UnixMilli(),
		Data:       item.payload,
	})
	if err != nil {
		m.logger.Error("Failed to encode broadcast %d: %v", item.seq, err)
		return
	}

	var g errgroup.Group
	g.SetLimit(fanOutLimit)
	for _, c := range m.registry() {
		if !c.wants(item.topic) {
			continue
		}
		g.Go(func() error {
			m.send(c, data)
			return nil
		})
	}
	g.Wait()
}

// send writes one frame. Failures flag the connection but leave it registered;
// the heartbeat decides whether it is dead.
func (m *ConnectionManager) send(c *connection, data []byte) bool {
	if err := c.write(data, m.sendTimeout()); err != nil {
		c.errs.Add(1)
		c.suspect.Store(true)
		m.sendErrors.Add(1)
		if m.metrics != nil {
			m.metrics.SendErrors.Inc()
		}
		m.logger.WithFields(logger.Fields{"client_id": c.id}).Debug("%v", helpers.NewSendError(c.id, err))
		return false
	}
	c.sent.Add(1)
	c.suspect.Store(false)
	m.delivered.Add(1)
	if m.metrics != nil {
		m.metrics.MessagesSent.Inc()
	}
	return true
}

// registry returns a point-in-time copy of the registered connections.
func (m *ConnectionManager) registry() []*connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out
}

// -----------------------------------------------------------------------------
// Heartbeat
// -----------------------------------------------------------------------------

func (m *ConnectionManager) heartbeatLoop(ctx context.Context) {
	interval := time.Duration(m.cfg.HeartbeatIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.heartbeat()
		}
	}
}

// heartbeat evicts connections silent for longer than the liveness timeout
// and probes the rest; a successful probe refreshes liveness.
func (m *ConnectionManager) heartbeat() {
	now := m.now()
	timeout := time.Duration(m.cfg.LivenessTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	probe := []byte("ping")

	var g errgroup.Group
	g.SetLimit(fanOutLimit)
	for _, c := range m.registry() {
		c.mu.Lock()
		last := c.lastLiveness
		c.mu.Unlock()

		if now.Sub(last) > timeout {
			if m.Disconnect(c.id) {
				m.evicted.Add(1)
				if m.metrics != nil {
					m.metrics.Evictions.Inc()
				}
				m.logger.WithFields(logger.Fields{"client_id": c.id}).Warning("Evicted: no liveness for %s", now.Sub(last).Round(time.Second))
			}
			continue
		}
		g.Go(func() error {
			if m.send(c, probe) {
				c.touch(now)
			}
			return nil
		})
	}
	g.Wait()
}

// -----------------------------------------------------------------------------
// Client messages
// -----------------------------------------------------------------------------

// Touch marks the connection alive.
func (m *ConnectionManager) Touch(id string) {
	if c := m.get(id); c != nil {
		c.touch(m.now())
	}
}

// HandleMessage applies one text command from a client. Any inbound message
// counts as liveness.
func (m *ConnectionManager) HandleMessage(id string, text string) error {
	c := m.get(id)
	if c == nil {
		return ErrUnknownConnection
	}
	c.touch(m.now())

	cmd := strings.TrimSpace(text)
	switch {
	case cmd == "ping":
		m.send(c, []byte("pong"))
	case cmd == "pong":
	case strings.HasPrefix(cmd, "subscribe:"):
		topic := strings.TrimSpace(strings.TrimPrefix(cmd, "subscribe:"))
		if topic == "" {
			return fmt.Errorf("empty topic")
		}
		c.mu.Lock()
		c.subscriptions[topic] = struct{}{}
		c.mu.Unlock()
		m.ack(c, "subscribed", topic)
	case strings.HasPrefix(cmd, "unsubscribe:"):
		topic := strings.TrimSpace(strings.TrimPrefix(cmd, "unsubscribe:"))
		c.mu.Lock()
		delete(c.subscriptions, topic)
		c.mu.Unlock()
		m.ack(c, "unsubscribed", topic)
	default:
		m.logger.WithFields(logger.Fields{"client_id": id}).Debug("Ignoring unknown command %q", cmd)
	}
	return nil
}

func (m *ConnectionManager) ack(c *connection, kind, topic string) {
	data, _ := json.Marshal(models.MSubscriptionAck{
		Type:          kind,
		Topic:         topic,
		Subscriptions: c.info().Subscriptions,
	})
	m.send(c, data)
}

func (m *ConnectionManager) get(id string) *connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[id]
}

// -----------------------------------------------------------------------------
// Introspection
// -----------------------------------------------------------------------------

func (m *ConnectionManager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Connections returns a copy of every connection, oldest first.
func (m *ConnectionManager) Connections() []models.MConnectionInfo {
	conns := m.registry()
	out := make([]models.MConnectionInfo, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *ConnectionManager) Stats() models.MConnectionStats {
	return models.MConnectionStats{
		Connections: m.ConnectionCount(),
		MaxConns:    m.cfg.MaxConnections,
		QueueDepth:  len(m.queue),
		QueueSize:   cap(m.queue),
		Enqueued:    m.enqueued.Load(),
		Dropped:     m.dropped.Load(),
		Delivered:   m.delivered.Load(),
		SendErrors:  m.sendErrors.Load(),
		Evicted:     m.evicted.Load(),
		Rejected:    m.rejected.Load(),
	}
}

// -----------------------------------------------------------------------------

// Stop ends the loops, then closes every connection with CloseGoingAway.
// Frames still queued are discarded.
func (m *ConnectionManager) Stop() {
	m.lifecycleMu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.loops.Wait()
		m.cancel = nil
	}
	m.lifecycleMu.Unlock()

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	conns := make([]*connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[string]*connection)
	m.mu.Unlock()

	for _, c := range conns {
		m.closeSocket(c.socket, websocket.CloseGoingAway, "server shutdown")
	}
	if m.metrics != nil {
		m.metrics.Connections.Set(0)
	}
	m.logger.Info("Connection manager stopped, closed %d connections", len(conns))
}
