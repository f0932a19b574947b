package server

// This file contains the WebSocket job-update stream. Every store
// mutation observed through the service's subscriber channel is fanned
// out to connected clients.

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veldtlabs/runq/queue"
)

const (
	// clientSendBuffer is the per-client outbound message buffer
	clientSendBuffer = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// JobUpdateMessage is pushed to WebSocket clients on every job mutation
type JobUpdateMessage struct {
	Type      string    `json:"type"`
	Job       queue.Job `json:"job"`
	Timestamp int64     `json:"timestamp"`
}

// Client is one connected WebSocket consumer
type Client struct {
	server  *RunqServer
	conn    *websocket.Conn
	sendMsg chan interface{}
}

// upgrader validates origins with the same allow list as CORS
func (s *RunqServer) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		CheckOrigin: func(r *http.Request) bool {
			return s.checkOrigin(r.Header.Get("Origin"))
		},
	}
}

// HandleJobsWebSocket upgrades the connection and streams job updates
func (s *RunqServer) HandleJobsWebSocket(w http.ResponseWriter, r *http.Request) {
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("WebSocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	client := &Client{
		server:  s,
		conn:    conn,
		sendMsg: make(chan interface{}, clientSendBuffer),
	}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	clientCount := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("WebSocket client connected", "remote", r.RemoteAddr, "clients", clientCount)

	s.wg.Add(2)
	go client.writePump()
	go client.readPump()
}

// broadcastMessage sends a message to all connected clients.
// Returns the number of clients that accepted the message.
func (s *RunqServer) broadcastMessage(msg interface{}) int {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		select {
		case client.sendMsg <- msg:
			sent++
		default:
			// Channel full - skip
		}
	}
	return sent
}

// startJobUpdateBroadcaster consumes the service's subscription channel
// and fans job mutations out to WebSocket clients
func (s *RunqServer) startJobUpdateBroadcaster() {
	updates := s.svc.Subscribe()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.svc.Unsubscribe(updates)

		for {
			select {
			case <-s.ctx.Done():
				return
			case job := <-updates:
				s.mu.RLock()
				hasClients := len(s.clients) > 0
				s.mu.RUnlock()
				if !hasClients {
					continue
				}
				s.broadcastMessage(JobUpdateMessage{
					Type:      "job_update",
					Job:       job,
					Timestamp: time.Now().Unix(),
				})
			}
		}
	}()
}

// detach removes the client from the server's set
func (c *Client) detach() {
	c.server.mu.Lock()
	delete(c.server.clients, c)
	c.server.mu.Unlock()
}

// close tears the connection down
func (c *Client) close() {
	_ = c.conn.Close()
}

// writePump drains sendMsg to the socket and keeps the connection alive
// with pings
func (c *Client) writePump() {
	defer c.server.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.server.ctx.Done():
			return
		case msg, ok := <-c.sendMsg:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
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

// readPump discards inbound frames; the stream is one-way. It exists to
// notice closes and answer pongs.
func (c *Client) readPump() {
	defer c.server.wg.Done()
	defer func() {
		c.detach()
		c.close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
