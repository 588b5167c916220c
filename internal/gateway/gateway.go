// Package gateway terminates client WebSockets: it authenticates each
// session, keeps the per-process presence table and fans broker messages
// out to live sessions.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/5l1v3r1/tellecast-sub000/internal/broker"
	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/internal/observability"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

// TokenValidator resolves a session token.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*models.Principal, error)
}

// LocationIngestor accepts fixes posted over the socket.
type LocationIngestor interface {
	Ingest(ctx context.Context, userID int64, fix models.LocationFix) (*models.LocationFix, error)
}

// NotificationSource feeds replay and notification fan-out.
type NotificationSource interface {
	Get(ctx context.Context, id int64) (*models.Notification, error)
	ListUnread(ctx context.Context, userID int64, limit int) ([]models.Notification, error)
}

type Options struct {
	AuthTimeout time.Duration
	PingPeriod  time.Duration
	PongWait    time.Duration
	WriteWait   time.Duration
	SendBuffer  int
	ReadLimit   int64
	RateLimit   rate.Limit
	RateBurst   int
	ReplayLimit int
}

func (o *Options) defaults() {
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = 10 * time.Second
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 30 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 * 1024
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 20
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 40
	}
	if o.ReplayLimit <= 0 {
		o.ReplayLimit = 50
	}
}

type Gateway struct {
	hub           *Hub
	tokens        TokenValidator
	locations     LocationIngestor
	notifications NotificationSource
	opts          Options
	log           *zap.Logger
	upgrader      websocket.Upgrader
}

func New(tokens TokenValidator, locations LocationIngestor, notifications NotificationSource, opts Options, log *zap.Logger) *Gateway {
	opts.defaults()
	return &Gateway{
		hub:           NewHub(),
		tokens:        tokens,
		locations:     locations,
		notifications: notifications,
		opts:          opts,
		log:           log.Named("gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from arbitrary app origins; the token
			// handshake is the access check.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Subscriptions binds the gateway's broker consumers.
func (g *Gateway) Subscriptions() []broker.Subscription {
	return []broker.Subscription{
		{Exchange: broker.QueueWS, Handler: g.HandleWS},
		{Exchange: broker.QueueWebsocketsCommands, Handler: g.HandleCommand},
	}
}

// frame encodes a client frame. body is sent as a JSON value.
func frame(subject string, body interface{}) []byte {
	raw, err := json.Marshal(body)
	if err != nil {
		raw = []byte("null")
	}
	data, _ := json.Marshal(broker.Frame{Subject: subject, Body: raw})
	return data
}

func errorFrame(err error) []byte {
	data, _ := json.Marshal(map[string]string{"error": apperr.Message(err)})
	return data
}

// ServeWS upgrades the request and runs the session until it closes.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	if tcp, ok := conn.UnderlyingConn().(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	s := newSession(conn, g.opts.SendBuffer, g.log)
	go s.writePump(g.opts.PingPeriod, g.opts.WriteWait)
	g.run(r.Context(), s)
}

func (g *Gateway) run(ctx context.Context, s *Session) {
	conn := s.conn
	conn.SetReadLimit(g.opts.ReadLimit)

	defer func() {
		s.Close(websocket.CloseNormalClosure, "")
		if id := s.UserID(); id != 0 && g.hub.RemoveIf(id, s) {
			observability.GatewaySessions.Dec()
			g.log.Debug("session removed", zap.Int64("user_id", id))
		}
	}()

	principal, ok := g.authenticate(ctx, s)
	if !ok {
		return
	}

	log := g.log.With(zap.Int64("user_id", principal.ID))
	_ = conn.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	})

	limiter := rate.NewLimiter(g.opts.RateLimit, g.opts.RateBurst)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("read failed", zap.Error(err))
			}
			return
		}
		if s.State() >= StateClosing {
			return
		}
		if !limiter.Allow() {
			observability.GatewayFrames.WithLabelValues("dropped", "rate_limited").Inc()
			continue
		}
		g.handleFrame(ctx, s, principal, data)
	}
}

// authenticate waits for the token frame. On failure the session is
// closed with 4401.
func (g *Gateway) authenticate(ctx context.Context, s *Session) (*models.Principal, bool) {
	s.advance(StateAuthenticating)
	_ = s.conn.SetReadDeadline(time.Now().Add(g.opts.AuthTimeout))

	_, data, err := s.conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			s.Close(CloseAuthFailed, "authentication timeout")
		} else {
			s.Close(CloseAuthFailed, "authentication failed")
		}
		return nil, false
	}

	var f broker.Frame
	if err := json.Unmarshal(data, &f); err != nil || (f.Subject != broker.SubjectToken && f.Subject != broker.SubjectUsers) {
		s.Close(CloseAuthFailed, "authentication required")
		return nil, false
	}
	observability.GatewayFrames.WithLabelValues("in", f.Subject).Inc()

	var token string
	if err := json.Unmarshal(f.Body, &token); err != nil {
		s.Send(frame(broker.SubjectToken, false))
		s.Close(CloseAuthFailed, "invalid token")
		return nil, false
	}

	authCtx, cancel := context.WithTimeout(ctx, g.opts.AuthTimeout)
	principal, err := g.tokens.Validate(authCtx, token)
	cancel()
	if err != nil {
		if !apperr.Is(err, apperr.InvalidToken) {
			g.log.Warn("token validation failed", zap.Error(err))
		}
		s.Send(frame(broker.SubjectToken, false))
		s.Close(CloseAuthFailed, "invalid token")
		return nil, false
	}

	s.userID.Store(principal.ID)
	if !s.advance(StateLive) {
		return nil, false
	}
	// The ack is queued before the session becomes visible to fan-out.
	s.Send(frame(broker.SubjectToken, true))
	if old := g.hub.Swap(principal.ID, s); old != nil {
		old.Close(CloseReplaced, "replaced by a newer session")
	} else {
		observability.GatewaySessions.Inc()
	}
	g.replay(ctx, s, principal.ID)
	g.log.Debug("session live", zap.Int64("user_id", principal.ID))
	return principal, true
}

// replay sends the unread notifications accumulated while offline.
func (g *Gateway) replay(ctx context.Context, s *Session, userID int64) {
	if g.notifications == nil {
		return
	}
	list, err := g.notifications.ListUnread(ctx, userID, g.opts.ReplayLimit)
	if err != nil {
		g.log.Warn("replay notifications", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	for i := range list {
		s.Send(frame(broker.SubjectNotifications, &list[i]))
	}
}

func (g *Gateway) handleFrame(ctx context.Context, s *Session, principal *models.Principal, data []byte) {
	var f broker.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		s.Send(errorFrame(apperr.E(apperr.Invalid, "frames must be JSON objects")))
		return
	}
	observability.GatewayFrames.WithLabelValues("in", f.Subject).Inc()

	switch f.Subject {
	case broker.SubjectUsersLocationsPost:
		var fix models.LocationFix
		if err := json.Unmarshal(unquote(f.Body), &fix); err != nil {
			s.Send(errorFrame(apperr.E(apperr.Invalid, "malformed location")))
			return
		}
		// Fan-out happens in HandleWS once the broker delivers the fix, so
		// every gateway process sees it.
		if _, err := g.locations.Ingest(ctx, principal.ID, fix); err != nil {
			s.Send(errorFrame(err))
		}
	case broker.SubjectToken, broker.SubjectUsers:
		s.Send(frame(broker.SubjectToken, true))
	}
}

// unquote accepts a body sent either as JSON or as a string holding JSON.
func unquote(body json.RawMessage) json.RawMessage {
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		return json.RawMessage(s)
	}
	return body
}

// Shutdown closes every live session.
func (g *Gateway) Shutdown() {
	g.hub.Each(func(s *Session) {
		s.Close(websocket.CloseGoingAway, "server shutting down")
	})
}
