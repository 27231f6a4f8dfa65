package handlers

import (
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/studybuddy/backend/internal/storage/models"
	"github.com/studybuddy/backend/pkg/logger"
)

// StatusHub fans document lifecycle transitions out to websocket
// subscribers, so uploads can show live ingestion progress instead of
// polling the status endpoint.
type StatusHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*websocket.Conn]chan statusUpdate
}

type statusUpdate struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

func NewStatusHub() *StatusHub {
	return &StatusHub{
		subscribers: make(map[string]map[*websocket.Conn]chan statusUpdate),
	}
}

// Publish delivers a transition to every subscriber of the document.
// Non-blocking: a subscriber that stopped draining is skipped.
func (h *StatusHub) Publish(documentID string, status models.DocumentStatus, message string) {
	update := statusUpdate{
		Type:       "status",
		DocumentID: documentID,
		Status:     string(status),
		Message:    message,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subscribers[documentID] {
		select {
		case ch <- update:
		default:
		}
	}
}

func (h *StatusHub) subscribe(documentID string, conn *websocket.Conn) chan statusUpdate {
	ch := make(chan statusUpdate, 8)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[documentID] == nil {
		h.subscribers[documentID] = make(map[*websocket.Conn]chan statusUpdate)
	}
	h.subscribers[documentID][conn] = ch
	return ch
}

func (h *StatusHub) unsubscribe(documentID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.subscribers[documentID]; ok {
		if ch, ok := conns[conn]; ok {
			close(ch)
			delete(conns, conn)
		}
		if len(conns) == 0 {
			delete(h.subscribers, documentID)
		}
	}
}

// HandleConnection serves one subscriber for the document id in the
// route. The connection stays open until the client disconnects; a
// terminal status still gets delivered first.
func (h *StatusHub) HandleConnection(c *websocket.Conn) {
	documentID := c.Params("id")
	logger.Info("Status subscriber connected", zap.String("doc_id", documentID))

	updates := h.subscribe(documentID, c)
	defer func() {
		h.unsubscribe(documentID, c)
		c.Close()
		logger.Info("Status subscriber disconnected", zap.String("doc_id", documentID))
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			// Reads only detect disconnects; subscribers never send.
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := c.WriteJSON(update); err != nil {
				logger.Warn("Failed to push status update", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}
