// Package websocket streams fund events to WebSocket subscribers.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/log"

	"github.com/luxfi/fund/pkg/fund"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// ChannelAllEvents receives every event; per-fund channels are
// "events:<fundID>".
const ChannelAllEvents = "events"

// Server fans fund events out to subscribed WebSocket clients.
type Server struct {
	logger log.Logger

	clients   map[*Client]bool
	clientsMu sync.RWMutex

	messagesOut uint64
	clientCount int32

	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Client is one WebSocket subscriber.
type Client struct {
	conn     *websocket.Conn
	server   *Server
	send     chan []byte
	channels map[string]bool
	mu       sync.RWMutex
}

// Message is the wire envelope for streamed events.
type Message struct {
	Type      string     `json:"type"`
	Channel   string     `json:"channel,omitempty"`
	Data      fund.Event `json:"data"`
	Timestamp int64      `json:"timestamp"`
}

// SubscribeRequest is what clients send to manage their channel set.
type SubscribeRequest struct {
	Type     string   `json:"type"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// NewServer creates an event streaming server.
func NewServer() *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		logger:  log.Root().New("module", "websocket"),
		clients: make(map[*Client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run broadcasts events from the broker channel until Stop is called or
// the channel closes.
func (s *Server) Run(events <-chan fund.Event) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				s.broadcast(e)
			}
		}
	}()
}

// Stop disconnects every client and stops broadcasting.
func (s *Server) Stop() {
	s.cancel()
	s.clientsMu.Lock()
	for client := range s.clients {
		close(client.send)
		client.conn.Close()
	}
	s.clients = make(map[*Client]bool)
	atomic.StoreInt32(&s.clientCount, 0)
	s.clientsMu.Unlock()
	s.wg.Wait()
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	return int(atomic.LoadInt32(&s.clientCount))
}

// ServeHTTP upgrades the connection and starts the client pumps.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:     conn,
		server:   s,
		send:     make(chan []byte, 256),
		channels: map[string]bool{ChannelAllEvents: true},
	}

	s.clientsMu.Lock()
	s.clients[client] = true
	s.clientsMu.Unlock()
	atomic.AddInt32(&s.clientCount, 1)

	go client.writePump()
	go client.readPump()
}

func (s *Server) broadcast(e fund.Event) {
	channels := []string{ChannelAllEvents}
	if e.Fund != "" {
		channels = append(channels, fmt.Sprintf("%s:%s", ChannelAllEvents, e.Fund))
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for client := range s.clients {
		for _, channel := range channels {
			if !client.subscribed(channel) {
				continue
			}
			data, err := json.Marshal(Message{
				Type:      "event",
				Channel:   channel,
				Data:      e,
				Timestamp: time.Now().UnixNano(),
			})
			if err != nil {
				continue
			}
			select {
			case client.send <- data:
				atomic.AddUint64(&s.messagesOut, 1)
			default:
				// Client is not keeping up, skip
			}
			break
		}
	}
}

func (c *Client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel]
}

func (c *Client) readPump() {
	defer c.server.disconnect(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req SubscribeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		c.mu.Lock()
		switch req.Type {
		case "subscribe":
			for _, ch := range req.Channels {
				c.channels[ch] = true
			}
		case "unsubscribe":
			for _, ch := range req.Channels {
				delete(c.channels, ch)
			}
		}
		c.mu.Unlock()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

func (s *Server) disconnect(c *Client) {
	s.clientsMu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
		atomic.AddInt32(&s.clientCount, -1)
	}
	s.clientsMu.Unlock()
	c.conn.Close()
}
