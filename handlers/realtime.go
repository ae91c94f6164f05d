package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/campusride/bustrack/pkg/log"
)

// ConnServer runs the realtime protocol on an upgraded connection
type ConnServer interface {
	Serve(conn *websocket.Conn, userID string)
}

// RealtimeHandler upgrades authenticated viewers to the realtime channel
type RealtimeHandler struct {
	hub      ConnServer
	upgrader websocket.Upgrader
	log      log.Logger
}

// NewRealtimeHandler creates a handler that accepts browser connections
// only from allowedOrigins. "*" allows any origin.
func NewRealtimeHandler(hub ConnServer, allowedOrigins []string, logger log.Logger) *RealtimeHandler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &RealtimeHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: logger,
	}
}

// ServeWS handles GET /ws
func (h *RealtimeHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	h.hub.Serve(conn, id.UserID)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if _, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]; ok {
			return true
		}
		// Same-origin pages are always allowed
		return strings.EqualFold(u.Host, r.Host)
	}
}
