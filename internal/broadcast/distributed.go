package broadcast

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agor/agord/internal/collab"
	"github.com/agor/agord/internal/eventbus"
	"github.com/agor/agord/internal/logging"
)

const (
	sessionSubject = "agor.broadcast.session"
	userSubject    = "agor.broadcast.user"
)

// DistributedHub wraps a Hub so EmitToSession/EmitToUser also reach viewers
// connected to a different daemon replica, via a shared eventbus.EventBus.
// Local delivery happens unconditionally; the bus round-trip additionally
// relays to every OTHER replica subscribed to the same subject. Each
// instance tags its own publications with nodeID and ignores relayed events
// it originated, to avoid delivering to its own local clients twice.
type DistributedHub struct {
	*Hub
	bus    eventbus.EventBus
	nodeID string
	log    *logging.Logger
}

// NewDistributedHub builds a DistributedHub and subscribes it to every
// peer's session/user broadcast subjects.
func NewDistributedHub(bus eventbus.EventBus, nodeID string, log *logging.Logger) (*DistributedHub, error) {
	if log == nil {
		log = logging.Default()
	}
	d := &DistributedHub{
		Hub:    NewHub(log),
		bus:    bus,
		nodeID: nodeID,
		log:    log,
	}

	if _, err := bus.Subscribe(sessionSubject, d.relayHandler(func(sessionID string, ev collab.Event) {
		d.Hub.EmitToSession(sessionID, ev)
	})); err != nil {
		return nil, err
	}
	if _, err := bus.Subscribe(userSubject, d.relayHandler(func(userID string, ev collab.Event) {
		d.Hub.EmitToUser(userID, ev)
	})); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DistributedHub) relayHandler(deliver func(id string, ev collab.Event)) eventbus.EventHandler {
	return func(_ context.Context, e *eventbus.Event) error {
		if e.Source == d.nodeID {
			return nil // already delivered locally by the publishing call
		}
		id, _ := e.Data["id"].(string)
		deliver(id, collab.Event{Type: e.Type, Data: e.Data["data"]})
		return nil
	}
}

// EmitToSession delivers locally and publishes for peer replicas to relay.
func (d *DistributedHub) EmitToSession(sessionID string, event collab.Event) {
	d.Hub.EmitToSession(sessionID, event)
	d.publish(sessionSubject, sessionID, event)
}

// EmitToUser delivers locally and publishes for peer replicas to relay.
func (d *DistributedHub) EmitToUser(userID string, event collab.Event) {
	d.Hub.EmitToUser(userID, event)
	d.publish(userSubject, userID, event)
}

func (d *DistributedHub) publish(subject, id string, event collab.Event) {
	ev := eventbus.NewEvent(event.Type, d.nodeID, map[string]any{"id": id, "data": event.Data})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.bus.Publish(ctx, subject, ev); err != nil {
		d.log.Warn("failed to relay broadcast event to peers", zap.String("subject", subject), zap.Error(err))
	}
}

var _ collab.Broadcaster = (*DistributedHub)(nil)
