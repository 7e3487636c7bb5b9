package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/thereceipt/print-station/internal/queue"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WSMessage is a WebSocket message
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	ID    string          `json:"id,omitempty"`
}

// WSClient is one connected WebSocket client and its queue subscription
type WSClient struct {
	conn   *websocket.Conn
	sub    *queue.Subscription
	server *Server
	send   chan WSMessage
	done   chan struct{}
	once   sync.Once
}

// handleWebSocket upgrades the connection and streams queue events
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &WSClient{
		conn:   conn,
		sub:    s.queue.Subscribe(queue.WithSubscriptionName("ws:" + conn.RemoteAddr().String())),
		server: s,
		send:   make(chan WSMessage, 16),
		done:   make(chan struct{}),
	}

	s.logger.Printf("WebSocket client connected: %s", conn.RemoteAddr())

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.sub.Close()
		c.conn.Close()
		c.server.logger.Printf("WebSocket client disconnected: %s", c.conn.RemoteAddr())
	})
}

// readPump handles client requests and notices disconnects
func (c *WSClient) readPump() {
	defer c.close()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		c.handleMessage(msg)
	}
}

// writePump forwards queue events and replies to the connection
func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-c.sub.C():
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			if err := c.write(eventMessage(ev)); err != nil {
				return
			}
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) write(msg WSMessage) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func eventMessage(ev queue.Event) WSMessage {
	data, _ := json.Marshal(ev)
	return WSMessage{Event: string(ev.Type), Data: data, ID: ev.Request.ID}
}

func (c *WSClient) reply(event, id string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- WSMessage{Event: event, Data: data, ID: id}:
	case <-c.done:
	}
}

func (c *WSClient) replyError(id string, err error) {
	c.reply("error", id, map[string]string{"error": err.Error()})
}

// handleMessage serves the request/response side of the socket
func (c *WSClient) handleMessage(msg WSMessage) {
	q := c.server.queue

	switch msg.Event {
	case "submit":
		var body struct {
			NoteID  string                 `json:"note_id"`
			Payload map[string]interface{} `json:"payload"`
		}
		if err := json.Unmarshal(msg.Data, &body); err != nil || body.NoteID == "" {
			c.reply("error", msg.ID, map[string]string{"error": "note_id is required"})
			return
		}
		c.reply("submit_response", msg.ID, q.Submit(body.Payload, body.NoteID))

	case "list_pending":
		c.reply("pending", msg.ID, map[string]interface{}{"requests": q.ListPending()})

	case "mark_printed", "mark_error":
		var body struct {
			ID     string `json:"id"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(msg.Data, &body); err != nil {
			c.replyError(msg.ID, err)
			return
		}
		var err error
		if msg.Event == "mark_printed" {
			err = q.MarkPrinted(body.ID)
		} else {
			err = q.MarkError(body.ID, body.Reason)
		}
		if err != nil {
			c.replyError(msg.ID, err)
			return
		}
		c.reply(msg.Event+"_response", msg.ID, map[string]bool{"success": true})

	case "ping":
		c.reply("pong", msg.ID, map[string]string{"status": "ok"})

	default:
		c.reply("error", msg.ID, map[string]string{"error": "unknown event: " + msg.Event})
	}
}
