// Package relay is the in-memory fanout core: the connection registry,
// channel membership, typing tracker, event router and broadcast fanout.
//
// All state is owned by the goroutine running Hub.Run. Transports talk to
// it through Connect, Disconnect and Dispatch, which queue work for that
// goroutine, so every inbound event is handled to completion before the
// next one starts.
package relay

import (
	"context"
	"log/slog"
	"time"
)

const (
	opQueueSize      = 256
	minSweepInterval = 10 * time.Millisecond
)

// Stats is a point-in-time view of the hub.
type Stats struct {
	Connections   int `json:"connections"`
	Authenticated int `json:"authenticated"`
	Channels      int `json:"channels"`
	Typing        int `json:"typing"`
}

type opKind int

const (
	opConnect opKind = iota
	opDisconnect
	opDispatch
	opStats
)

// op is one unit of work for the hub goroutine. Every operation goes
// through the same queue so they are applied in submission order.
type op struct {
	kind     opKind
	conn     Conn
	identity *Identity
	connID   string
	env      Envelope
	reply    chan Stats
}

// Hub owns the registry, membership and typing state and serializes every
// mutation through Run.
type Hub struct {
	log                    *slog.Logger
	now                    func() time.Time
	typingTTL              time.Duration
	requireAuth            bool
	suppressIdleTypingStop bool

	registry *registry
	channels *channelTable
	members  *membership
	typing   *typingTracker

	// failed collects connections whose Send failed during the current
	// step; they are disconnected once the step completes.
	failed map[string]struct{}

	ops chan op

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// WithClock replaces time.Now, used for editedAt stamps and typing expiry.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// WithTypingTimeout expires typing entries that receive no typing_stop
// within d. Zero disables expiry.
func WithTypingTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d >= 0 {
			h.typingTTL = d
		}
	}
}

// WithRequireAuth rejects identity-bearing events from connections that
// have not authenticated.
func WithRequireAuth(require bool) Option {
	return func(h *Hub) {
		h.requireAuth = require
	}
}

// WithSuppressIdleTypingStop skips the user_typing_stop broadcast when the
// user had no recorded typing entry.
func WithSuppressIdleTypingStop(suppress bool) Option {
	return func(h *Hub) {
		h.suppressIdleTypingStop = suppress
	}
}

// NewHub creates a Hub. Run must be started before any other method is used.
func NewHub(opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		log:    slog.Default(),
		now:    time.Now,
		failed: make(map[string]struct{}),
		ops:    make(chan op, opQueueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.registry = newRegistry()
	h.channels = newChannelTable()
	h.members = newMembership(h.channels)
	h.typing = newTypingTracker(h.channels, h.typingTTL)
	return h
}

// Connect registers a new connection with no identity.
func (h *Hub) Connect(c Conn) {
	if !h.submit(op{kind: opConnect, conn: c}) {
		_ = c.Close()
	}
}

// ConnectVerified registers a connection whose identity the transport has
// already verified. The identity is announced with user_online and cannot
// be replaced by a later authenticate event.
func (h *Hub) ConnectVerified(c Conn, ident Identity) {
	if !h.submit(op{kind: opConnect, conn: c, identity: &ident}) {
		_ = c.Close()
	}
}

// Disconnect removes a connection. Unknown ids are ignored.
func (h *Hub) Disconnect(id string) {
	h.submit(op{kind: opDisconnect, connID: id})
}

// Dispatch queues an inbound event from connection id.
func (h *Hub) Dispatch(id string, env Envelope) {
	h.submit(op{kind: opDispatch, connID: id, env: env})
}

// Stats returns a snapshot taken on the hub goroutine after every
// previously submitted operation has been applied. A stopped hub returns
// zero stats.
func (h *Hub) Stats() Stats {
	reply := make(chan Stats, 1)
	if !h.submit(op{kind: opStats, reply: reply}) {
		return Stats{}
	}
	select {
	case s := <-reply:
		return s
	case <-h.ctx.Done():
		return Stats{}
	}
}

func (h *Hub) submit(o op) bool {
	if h.ctx.Err() != nil {
		return false
	}
	select {
	case h.ops <- o:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Run is the hub's event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	var sweep <-chan time.Time
	if h.typingTTL > 0 {
		ticker := time.NewTicker(max(h.typingTTL/2, minSweepInterval))
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return

		case o := <-h.ops:
			h.apply(o)

		case <-sweep:
			h.expireTyping()
		}
		h.dropFailed()
	}
}

// Shutdown stops Run, closes every connection and waits up to timeout for
// the loop to exit.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("hub shutting down")
	h.cancel()

	select {
	case <-h.done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timed out")
		return context.DeadlineExceeded
	}
}

func (h *Hub) apply(o op) {
	switch o.kind {
	case opConnect:
		h.handleConnect(o.conn, o.identity)
	case opDisconnect:
		h.handleDisconnect(o.connID)
	case opDispatch:
		h.route(o.connID, o.env)
	case opStats:
		o.reply <- h.snapshot()
	}
}

func (h *Hub) handleConnect(c Conn, ident *Identity) {
	id := c.ID()
	if old, ok := h.registry.get(id); ok && old.conn != c {
		h.log.Warn("connection id reused, replacing session", "conn", id)
		h.handleDisconnect(id)
	}

	s := h.registry.add(c)
	h.log.Debug("connection registered", "conn", id, "connections", h.registry.len())

	if ident != nil {
		s.pinned = true
		h.authenticate(s, *ident)
	}
}

// authenticate binds ident to s and announces it to everyone else.
func (h *Hub) authenticate(s *session, ident Identity) {
	id := s.conn.ID()
	h.registry.bind(id, ident)
	h.log.Info("user authenticated", "conn", id, "user", ident.UserID, "username", ident.Username)
	h.toAllExcept(id, EventUserOnline, UserOnline{UserID: ident.UserID, Username: ident.Username})
}

func (h *Hub) handleDisconnect(id string) {
	delete(h.failed, id)

	s, ok := h.registry.remove(id)
	if !ok {
		return
	}
	channels := h.members.dropConn(id)
	h.log.Debug("connection removed", "conn", id, "channels", channels, "connections", h.registry.len())

	if s.identity != nil {
		h.toAllExcept(id, EventUserOffline, UserOffline{UserID: s.identity.UserID})
	}

	userID := s.userID()
	for _, channelID := range h.typing.clearUser(userID) {
		h.toChannel(channelID, id, EventUserTypingStop, UserTypingStop{UserID: userID, ChannelID: channelID})
	}

	if err := s.conn.Close(); err != nil {
		h.log.Debug("close after disconnect", "conn", id, "error", err)
	}
}

func (h *Hub) expireTyping() {
	for _, e := range h.typing.expire(h.now()) {
		h.log.Debug("typing expired", "channel", e.channelID, "user", e.userID)
		h.toChannel(e.channelID, "", EventUserTypingStop, UserTypingStop{UserID: e.userID, ChannelID: e.channelID})
	}
}

// dropFailed disconnects connections that could not take a delivery.
// Disconnecting may broadcast and fail further sends, so it drains until
// nothing is left.
func (h *Hub) dropFailed() {
	for len(h.failed) > 0 {
		for id := range h.failed {
			h.log.Warn("dropping connection after failed send", "conn", id)
			h.handleDisconnect(id)
			break
		}
	}
}

func (h *Hub) snapshot() Stats {
	return Stats{
		Connections:   h.registry.len(),
		Authenticated: h.registry.authenticated(),
		Channels:      h.channels.len(),
		Typing:        h.typing.count(),
	}
}

func (h *Hub) closeAll() {
	count := h.registry.len()
	h.registry.each(func(s *session) {
		if err := s.conn.Close(); err != nil {
			h.log.Debug("close during shutdown", "conn", s.conn.ID(), "error", err)
		}
	})
	h.registry = newRegistry()
	h.channels = newChannelTable()
	h.members = newMembership(h.channels)
	h.typing = newTypingTracker(h.channels, h.typingTTL)
	h.log.Info("closed client connections", "count", count)
}
