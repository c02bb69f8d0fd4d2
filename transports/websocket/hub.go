package websocket

import (
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"voicechat/core"
	"voicechat/protocol"
)

// Hub fans engine events and log lines out to every connected client. It is
// created before the engine so that its listener can be wired in.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	logger  *core.Logger
}

func NewHub(logger *core.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		logger:  logger.OrDefault().With(map[string]any{"component": "ws_hub"}),
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.id)
}

// CloseAll drops every connected client and reports how many there were.
// http.Server.Shutdown does not track hijacked websocket connections, so
// this is how they end on shutdown.
func (h *Hub) CloseAll() int {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
	return len(clients)
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues a message for every client. Slow clients lose their
// oldest queued broadcast rather than stalling the engine.
func (h *Hub) Broadcast(msgType protocol.MessageType, payload interface{}) {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		h.logger.Warn("failed to marshal broadcast, dropping", "type", string(msgType), "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if msgType == protocol.MsgEvent && !c.wantsEvents {
			continue
		}
		if msgType == protocol.MsgLog && !c.wantsLogs {
			continue
		}
		c.offer(data)
	}
}

// EventListener forwards engine events as event messages.
func (h *Hub) EventListener() core.EventListener {
	return func(packet *core.EventPacket) {
		if packet == nil || packet.Event == nil {
			return
		}
		data, err := sonic.Marshal(packet.Event)
		if err != nil {
			h.logger.Warn("failed to marshal event", "event", packet.Event.GetId(), "error", err)
			return
		}
		h.Broadcast(protocol.MsgEvent, protocol.EventPayload{
			ID:        packet.Event.GetId(),
			Data:      data,
			Timestamp: packet.Timestamp.UnixMilli(),
		})
	}
}

// LogWriter returns a core.LogWriter that forwards log lines to clients that
// asked for them.
func (h *Hub) LogWriter() core.LogWriter {
	return &hubLogWriter{hub: h}
}

// hubLogWriter implements core.LogWriter by sending log entries over the
// websocket instead of writing to disk.
type hubLogWriter struct {
	hub *Hub
}

func (w *hubLogWriter) Write(level core.Level, msg string, attrs map[string]any) {
	w.hub.Broadcast(protocol.MsgLog, protocol.LogPayload{Entry: core.LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   msg,
		Attrs:     core.StringifyErrors(attrs),
	}})
}

func (w *hubLogWriter) Close() {}
