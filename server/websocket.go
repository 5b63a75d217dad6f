package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nedpals/davi-nfc-bridge/protocol"
)

// Conn is a WebSocket connection with serialized writes.
// Listener notifications and request replies may write from different goroutines.
type Conn struct {
	ID     string
	Device bool // sender-only connection (?mode=device)

	ws *websocket.Conn
	mu sync.Mutex
}

func newConn(id string, ws *websocket.Conn, device bool) *Conn {
	return &Conn{ID: id, Device: device, ws: ws}
}

// WriteJSON writes v as a single JSON message.
func (c *Conn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.ws.WriteJSON(v)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// SendResponse replies to a request.
func (c *Conn) SendResponse(requestID, responseType string, payload any) error {
	return c.WriteJSON(protocol.WebSocketResponse{
		ID:      requestID,
		Type:    responseType,
		Success: true,
		Payload: payload,
	})
}

// SendError sends a structured error response.
func (c *Conn) SendError(requestID, errorCode, message string) error {
	return c.WriteJSON(protocol.WebSocketResponse{
		ID:      requestID,
		Type:    protocol.WSTypeError,
		Success: false,
		Error:   message,
		Payload: map[string]string{"code": errorCode},
	})
}

// connSet tracks open connections so shutdown can close them; hijacked
// connections are not closed by http.Server.Shutdown.
type connSet struct {
	mu    sync.Mutex
	conns map[*Conn]struct{}
}

func (cs *connSet) add(c *Conn) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.conns == nil {
		cs.conns = make(map[*Conn]struct{})
	}
	cs.conns[c] = struct{}{}
}

func (cs *connSet) remove(c *Conn) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.conns, c)
}

func (cs *connSet) count() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.conns)
}

// closeAll closes every tracked connection and forgets it.
func (cs *connSet) closeAll() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for c := range cs.conns {
		c.Close()
		delete(cs.conns, c)
	}
}
