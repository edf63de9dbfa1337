package events

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"crm-backend/internal/admin"
)

const wsWriteTimeout = 5 * time.Second

// WSHandler streams bus events to authenticated admin operators. The token
// travels as a query parameter since browsers cannot set WS headers.
type WSHandler struct {
	bus       *Bus
	jwtSecret []byte
	right     string
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

func NewWSHandler(bus *Bus, jwtSecret, right, origin string, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		bus:       bus,
		jwtSecret: []byte(jwtSecret),
		right:     right,
		logger:    logger.With(zap.String("component", "ws")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) },
		},
	}
}

func allowOrigin(r *http.Request, origin string) bool {
	if origin == "*" {
		return true
	}
	reqOrigin := r.Header.Get("Origin")
	if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
		if strings.Contains(reqOrigin, "localhost") || strings.Contains(reqOrigin, "127.0.0.1") {
			return true
		}
	}
	return strings.EqualFold(reqOrigin, origin)
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	p, err := admin.ParseToken(h.jwtSecret, token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if h.right != "" && !p.Has(h.right) {
		http.Error(w, "insufficient rights", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)
	h.logger.Debug("operator connected", zap.String("username", p.Username))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	for {
		select {
		case evt, ok := <-sub:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
