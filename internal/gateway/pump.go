package gateway

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/broker"
	"github.com/5l1v3r1/tellecast-sub000/internal/observability"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

// HandleWS consumes the ws exchange.
func (g *Gateway) HandleWS(ctx context.Context, d broker.Delivery) error {
	msg, err := broker.Decode(broker.QueueWS, d.Body)
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case broker.UsersLocations:
		g.fanOutLocation(m)
		return nil

	case broker.Notifications:
		return g.deliverNotification(ctx, m.ID)
	}
	return apperr.E(apperr.Permanent, "gateway: unexpected message %T", msg)
}

// fanOutLocation echoes the fix to its owner, then broadcasts it once to
// every live session. Both go through per-session FIFO queues, so the
// owner always sees the echo before the broadcast.
func (g *Gateway) fanOutLocation(m broker.UsersLocations) {
	echo := frame(broker.SubjectUsersLocationsPost, m.Raw)
	broadcast := frame(broker.SubjectUsersLocationsGet, m.Raw)

	if owner, ok := g.hub.Get(m.Fix.UserID); ok {
		if owner.Send(echo) {
			observability.GatewayFrames.WithLabelValues("out", broker.SubjectUsersLocationsPost).Inc()
		}
	}
	g.hub.Each(func(s *Session) {
		if s.Send(broadcast) {
			observability.GatewayFrames.WithLabelValues("out", broker.SubjectUsersLocationsGet).Inc()
		}
	})
}

func (g *Gateway) deliverNotification(ctx context.Context, id int64) error {
	if g.notifications == nil {
		return nil
	}
	n, err := g.notifications.Get(ctx, id)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			g.log.Debug("notification is gone", zap.Int64("notification_id", id))
			return nil
		}
		return err
	}
	s, ok := g.hub.Get(n.UserID)
	if !ok {
		return nil
	}
	if s.Send(frame(broker.SubjectNotifications, n)) {
		observability.GatewayFrames.WithLabelValues("out", broker.SubjectNotifications).Inc()
	}
	return nil
}

// HandleCommand consumes api.management.commands.websockets.
func (g *Gateway) HandleCommand(ctx context.Context, d broker.Delivery) error {
	msg, err := broker.Decode(broker.QueueWebsocketsCommands, d.Body)
	if err != nil {
		return err
	}
	cmd, ok := msg.(broker.Command)
	if !ok {
		return apperr.E(apperr.Permanent, "gateway: unexpected message %T", msg)
	}

	switch cmd.Subject {
	case broker.SubjectClose:
		id, err := commandUserID(cmd.Body)
		if err != nil {
			return err
		}
		if s, ok := g.hub.Get(id); ok {
			s.Close(websocket.CloseNormalClosure, "closed by server")
			g.log.Info("session closed by command", zap.Int64("user_id", id))
		}
		return nil

	case broker.SubjectBroadcast:
		data := frame(broker.SubjectBroadcast, cmd.Body)
		g.hub.Each(func(s *Session) { s.Send(data) })
		return nil
	}
	return apperr.E(apperr.Permanent, "gateway: unknown command %q", cmd.Subject)
}

func commandUserID(body json.RawMessage) (int64, error) {
	var id int64
	if err := json.Unmarshal(body, &id); err == nil {
		return id, nil
	}
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			return id, nil
		}
	}
	return 0, apperr.E(apperr.Permanent, "gateway: close command needs a user id")
}
