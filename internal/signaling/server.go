package signaling

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Hiraete/kiel-app-sub000/internal/config"
	"github.com/Hiraete/kiel-app-sub000/internal/identity"
	"github.com/Hiraete/kiel-app-sub000/internal/relay"
)

// Server upgrades signaling connections and runs their sessions.
type Server struct {
	log   *slog.Logger
	cfg   config.Config
	relay *relay.Relay
	ident *identity.Extractor

	upgrader websocket.Upgrader
}

func NewServer(cfg config.Config, logger *slog.Logger, rly *relay.Relay) *Server {
	return &Server{
		log:   logger,
		cfg:   cfg,
		relay: rly,
		ident: identity.New(logger, cfg.IdentityJWTSecret),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser origin checks are enforced by the outer httpserver CORS
			// middleware; accept all origins at the upgrade itself so unit
			// tests can dial directly.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleSignal)
}

// Handler provides minimal routing for tests and simple deployments.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// The display identifier is annotation only; an absent or bad token still
	// gets a connection, just an unnamed one.
	name := s.ident.FromRequest(r)

	sess := newSession(s, ws, name)
	sess.run(r.Context())
}
