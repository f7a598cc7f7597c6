package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/pliu/chatterbox/internal/middleware"
	"github.com/pliu/chatterbox/internal/ws"
)

type SocketHandler struct {
	Registry   *ws.Registry
	Dispatcher ws.Handler
	Upgrader   websocket.Upgrader
	Options    ws.Options
	Log        logrus.FieldLogger
}

// NewSocketHandler builds the upgrade handler. An empty origins list
// accepts any origin.
func NewSocketHandler(reg *ws.Registry, dispatcher ws.Handler, readBuffer, writeBuffer int, origins []string, opts ws.Options, log logrus.FieldLogger) *SocketHandler {
	return &SocketHandler{
		Registry:   reg,
		Dispatcher: dispatcher,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuffer,
			WriteBufferSize: writeBuffer,
			CheckOrigin:     checkOrigin(origins),
		},
		Options: opts,
		Log:     log,
	}
}

// checkOrigin allows requests without an Origin header, same-host origins
// and the listed ones.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(strings.TrimSpace(a), origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// ServeWs upgrades the request and serves the connection until it closes.
// The user must already be in the request context.
func (h *SocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		h.Log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	client := ws.NewClient(conn, h.Options, h.Log)
	log := h.Log.WithFields(logrus.Fields{"conn_id": client.ID(), "user_id": user})
	if err := client.Authenticate(user); err != nil {
		log.WithError(err).Warn("rejecting connection")
		client.Close()
		return
	}
	if err := h.Registry.Register(client); err != nil {
		log.WithError(err).Warn("rejecting connection")
		client.Close()
		return
	}
	defer h.Registry.Unregister(client)

	log.Info("connection opened")
	if err := client.Run(r.Context(), h.Dispatcher); err != nil {
		log.WithError(err).Info("connection closed with error")
		return
	}
	log.Info("connection closed")
}
