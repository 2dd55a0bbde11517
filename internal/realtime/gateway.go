package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chat-backend/internal/config"
)

// TokenValidator is the auth collaborator: bearer credential in, user
// identity out.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Gateway owns the process's connection engine: registry, room tracker,
// presence store, dispatcher. Created at process start, torn down at shutdown
// after draining sessions; nothing here is a package-level singleton.
type Gateway struct {
	cfg      config.RealtimeConfig
	registry *Registry
	rooms    *RoomTracker
	presence Presence
	dispatch *Dispatcher
	auth     TokenValidator
	interest InterestQuery
}

func NewGateway(
	cfg config.RealtimeConfig,
	registry *Registry,
	rooms *RoomTracker,
	presence Presence,
	dispatch *Dispatcher,
	auth TokenValidator,
	interest InterestQuery,
) *Gateway {
	return &Gateway{
		cfg:      cfg,
		registry: registry,
		rooms:    rooms,
		presence: presence,
		dispatch: dispatch,
		auth:     auth,
		interest: interest,
	}
}

func (g *Gateway) Registry() *Registry     { return g.registry }
func (g *Gateway) Rooms() *RoomTracker     { return g.rooms }
func (g *Gateway) Dispatcher() *Dispatcher { return g.dispatch }

// ServeWS upgrades an HTTP request and runs the session to completion. The
// bearer credential is taken from the `token` query parameter, matching the
// wire contract.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	s := newSession(g, conn)
	go s.run(r.URL.Query().Get("token"))
}

// sessionOnline registers a freshly authenticated session and broadcasts the
// presence transition.
func (g *Gateway) sessionOnline(s *Session) {
	g.registry.Register(s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := g.presence.MarkOnline(ctx, s.userID, g.cfg.ProcessID); err != nil {
		slog.Error("failed to mark user online", "userID", s.userID, "error", err)
	}
	g.broadcastPresence(ctx, s.userID, true)
}

// sessionOffline unwinds a closing session: registry removal cascades room
// cleanup, the presence count is decremented, and offline is broadcast only
// when the last connection across all processes is gone.
func (g *Gateway) sessionOffline(s *Session) {
	g.rooms.DropConnection(s.id)
	g.registry.Unregister(s.id)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := g.presence.MarkOffline(ctx, s.userID, g.cfg.ProcessID); err != nil {
		slog.Error("failed to mark user offline", "userID", s.userID, "error", err)
	}
	online, err := g.presence.IsOnline(ctx, s.userID)
	if err != nil {
		slog.Error("presence lookup failed", "userID", s.userID, "error", err)
		return
	}
	if !online {
		g.broadcastPresence(ctx, s.userID, false)
	}
}

func (g *Gateway) broadcastPresence(ctx context.Context, userID uuid.UUID, online bool) {
	interested, err := g.interest.InterestedIn(ctx, userID)
	if err != nil {
		slog.Error("interest query failed", "userID", userID, "error", err)
		return
	}
	if err := g.dispatch.DispatchPresence(ctx, userID, online, interested); err != nil {
		slog.Warn("presence broadcast degraded to local only", "userID", userID, "error", err)
	}
}

// Shutdown drains every live session. Called once at process stop.
func (g *Gateway) Shutdown() {
	for _, s := range g.registry.Snapshot() {
		s.Close("server shutting down")
	}
}
