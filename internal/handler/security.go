package handler

import (
	"net/http"
	"time"

	"trustgate/internal/security"
	"trustgate/pkg/logger"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now (CORS)
	},
}

// SecurityHandler exposes the audit log to admins, including a live feed.
type SecurityHandler struct {
	service *security.Service
	logger  logger.Logger
}

func NewSecurityHandler(service *security.Service, log logger.Logger) *SecurityHandler {
	return &SecurityHandler{service: service, logger: log}
}

// GetAuditEvents returns paginated audit events, most recent first.
func (h *SecurityHandler) GetAuditEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	events, total, err := h.service.GetAuditEvents(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch audit events")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
	})
}

// StreamAuditEvents pushes new audit events over a WebSocket. The feed polls
// storage; it is an operator convenience, not a delivery guarantee.
func (h *SecurityHandler) StreamAuditEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	lastSeen := time.Now()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			events, err := h.service.GetAuditEventsSince(r.Context(), lastSeen, 100)
			if err != nil {
				h.logger.Error("audit feed query failed", map[string]interface{}{"error": err.Error()})
				return
			}
			if len(events) == 0 {
				continue
			}
			lastSeen = events[len(events)-1].CreatedAt

			if err := conn.WriteJSON(map[string]interface{}{
				"type":      "audit_events",
				"timestamp": time.Now(),
				"events":    events,
			}); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
