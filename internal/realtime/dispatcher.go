package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"chat-backend/internal/models"
)

// InterestQuery answers "who cares about user X" for presence fan-out: users
// sharing a private conversation or a group with X. The computation lives
// with the persistence collaborator; the dispatcher only fans out the result.
type InterestQuery interface {
	InterestedIn(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// presencePayload carries the ready-made frame plus the interest set computed
// at the origin, so receiving processes filter without their own DB query.
type presencePayload struct {
	Frame      OnlineStatusFrame `json:"frame"`
	Interested []uuid.UUID       `json:"interested"`
}

// Dispatcher translates domain actions into local deliveries plus one
// published bus event, and applies incoming bus events against local state.
// Every apply path is guarded by the dedup cache, so the origin receiving its
// own publish (or a broker redelivering) produces no duplicate frames.
type Dispatcher struct {
	registry *Registry
	rooms    *RoomTracker
	bus      Bus
	origin   string
	seq      atomic.Uint64
	seen     *dedupCache
}

func NewDispatcher(registry *Registry, rooms *RoomTracker, bus Bus, origin string, dedupSize int) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		rooms:    rooms,
		bus:      bus,
		origin:   origin,
		seen:     newDedupCache(dedupSize),
	}
}

// Run subscribes the dispatcher to the bus. Must be called once at startup.
func (d *Dispatcher) Run() error {
	return d.bus.Subscribe(d.apply)
}

func (d *Dispatcher) nextEvent(kind EventKind, payload []byte) *DeliveryEvent {
	return &DeliveryEvent{
		Kind:    kind,
		Origin:  d.origin,
		Seq:     d.seq.Add(1),
		Payload: payload,
	}
}

// DispatchMessage fans out a freshly persisted message. Called by the REST
// layer after the write commits; local delivery happens even when the bus
// publish fails.
func (d *Dispatcher) DispatchMessage(ctx context.Context, m *models.Message, sender models.UserPublic) error {
	frame := newMessageFrame(m, sender)
	ev := d.nextEvent(EventMessage, marshalFrame(frame))
	ev.UserID = m.ReceiverID
	ev.GroupID = m.GroupID

	d.apply(ev)
	return d.publish(ctx, ev)
}

// DispatchPresence fans out an online/offline transition to the given
// interest set. The caller computes the set via InterestQuery.
func (d *Dispatcher) DispatchPresence(ctx context.Context, userID uuid.UUID, online bool, interested []uuid.UUID) error {
	payload := presencePayload{
		Frame:      OnlineStatusFrame{Type: FrameOnlineStatus, UserID: userID, IsOnline: online},
		Interested: interested,
	}
	ev := d.nextEvent(EventPresence, marshalFrame(payload))
	ev.Broadcast = true

	d.apply(ev)
	return d.publish(ctx, ev)
}

// DispatchMembership fans out a durable membership change to the group's live
// subscribers on every process.
func (d *Dispatcher) DispatchMembership(ctx context.Context, groupID, userID uuid.UUID, added bool) error {
	frame := MembershipFrame{Type: FrameMembershipChanged, GroupID: groupID, UserID: userID, Added: added}
	ev := d.nextEvent(EventMembership, marshalFrame(frame))
	ev.GroupID = &groupID

	d.apply(ev)
	return d.publish(ctx, ev)
}

func (d *Dispatcher) publish(ctx context.Context, ev *DeliveryEvent) error {
	if err := d.bus.Publish(ctx, ev); err != nil {
		// Local state is already applied; remote processes converge via
		// persistence once clients reconnect or the broker recovers.
		slog.Warn("bus publish failed, delivered locally only",
			"kind", ev.Kind, "seq", ev.Seq, "error", err)
		return err
	}
	return nil
}

// apply is the single ingestion point for events, local or remote.
func (d *Dispatcher) apply(ev *DeliveryEvent) {
	if !d.seen.Add(ev.dedupKey()) {
		return
	}

	switch ev.Kind {
	case EventMessage:
		d.applyMessage(ev)
	case EventPresence:
		d.applyPresence(ev)
	case EventMembership:
		d.applyMembership(ev)
	default:
		slog.Warn("unknown event kind on bus", "kind", ev.Kind, "origin", ev.Origin)
	}
}

func (d *Dispatcher) applyMessage(ev *DeliveryEvent) {
	frame := outboundFrame{class: classMessage, data: ev.Payload}

	if ev.GroupID != nil {
		// Each process filters against its own room state; the origin makes
		// no assumption about remote subscriptions.
		for _, connID := range d.rooms.MembersOf(*ev.GroupID) {
			if s, ok := d.registry.SessionByConn(connID); ok {
				d.deliver(s, frame)
			}
		}
		return
	}

	if ev.UserID == nil {
		return
	}
	// Private message: receiver's sessions plus the sender's own, so the
	// sender sees the message on every device. No session online is fine;
	// the receiver catches up through history.
	var meta struct {
		SenderID uuid.UUID `json:"sender_id"`
	}
	if err := json.Unmarshal(ev.Payload, &meta); err != nil {
		slog.Error("malformed message payload", "origin", ev.Origin, "seq", ev.Seq, "error", err)
		return
	}
	for _, s := range d.registry.ConnectionsFor(*ev.UserID) {
		d.deliver(s, frame)
	}
	if meta.SenderID != *ev.UserID {
		for _, s := range d.registry.ConnectionsFor(meta.SenderID) {
			d.deliver(s, frame)
		}
	}
}

func (d *Dispatcher) applyPresence(ev *DeliveryEvent) {
	var payload presencePayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		slog.Error("malformed presence payload", "origin", ev.Origin, "seq", ev.Seq, "error", err)
		return
	}
	frame := outboundFrame{class: classControl, data: marshalFrame(payload.Frame)}
	for _, userID := range payload.Interested {
		if userID == payload.Frame.UserID {
			continue
		}
		for _, s := range d.registry.ConnectionsFor(userID) {
			d.deliver(s, frame)
		}
	}
}

func (d *Dispatcher) applyMembership(ev *DeliveryEvent) {
	if ev.GroupID == nil {
		return
	}
	frame := outboundFrame{class: classControl, data: ev.Payload}
	for _, connID := range d.rooms.MembersOf(*ev.GroupID) {
		if s, ok := d.registry.SessionByConn(connID); ok {
			d.deliver(s, frame)
		}
	}
}

func (d *Dispatcher) deliver(s *Session, frame outboundFrame) {
	if err := s.Enqueue(frame); err != nil {
		// Backpressure or a closing session: the frame is dropped and the
		// client resyncs through persistence after reconnecting.
		slog.Debug("dropped delivery", "connID", s.ID(), "userID", s.UserID(), "error", err)
	}
}
