package gateway

import (
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
)

// Client is a single WebSocket peer subscribed to one channel.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	channel string
	symbol  string
}

func newClient(hub *Hub, conn *websocket.Conn, symbol string) *Client {
	return &Client{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		hub:     hub,
		channel: ChannelName(symbol),
		symbol:  symbol,
	}
}

// writePump is the only writer on conn. It exits when send is closed or a
// write fails, closing the connection so readPump unblocks too.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// readPump answers the text heartbeat "ping" with "pong" and ignores other
// input. Any read error unsubscribes the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unsubscribe(c)
		c.conn.Close()
		log.Printf("[gateway] ws client disconnected from %s", c.channel)
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if string(msg) == "ping" {
			c.hub.reply(c, []byte("pong"))
		}
	}
}

// reply queues msg for c unless c has already been unsubscribed.
func (h *Hub) reply(c *Client, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[c.channel]
	if !ok || !ch.clients[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}
