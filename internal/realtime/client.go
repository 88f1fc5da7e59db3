package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jag18729/guard-quote-sub000/internal/models"
	"github.com/jag18729/guard-quote-sub000/internal/monitoring"
)

const (
	sendBufferSize = 256
	maxMessageSize = 4096

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// Upper bound on one debounced calculation, covering the remote
	// timeout plus the local fallback.
	calculationBudget = 15 * time.Second
)

// inboundMessage is the envelope of every frame a client sends
type inboundMessage struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// outboundMessage is the envelope of every frame the hub sends
type outboundMessage struct {
	Type      string      `json:"type"`
	Channel   string      `json:"channel,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

// Client is one persistent transport session. Inbound messages are
// handled strictly sequentially by readPump; outbound frames go
// through the buffered send channel drained by writePump.
type Client struct {
	ID     string
	Type   models.ConnectionType
	UserID int
	Role   string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subsMu sync.RWMutex
	subs   map[models.Channel]bool

	connectedAt time.Time
	lastPing    atomic.Int64

	debounce *debouncer
}

// readPump reads frames until the transport closes, dispatching each
// message by type. Its exit unregisters the connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error",
					zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		c.handleMessage(raw)
	}
}

// writePump drains the send channel and keeps the connection alive
// with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

// handleMessage dispatches one inbound frame. Protocol errors are
// answered with a non-fatal error event; the connection stays open.
func (c *Client) handleMessage(raw []byte) {
	c.lastPing.Store(time.Now().UnixMilli())

	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendError("Invalid message format")
		return
	}

	monitoring.MessagesTotal.WithLabelValues(msg.Type).Inc()

	switch msg.Type {
	case "ping":
		c.enqueuePayload(outboundMessage{Type: "pong", Timestamp: time.Now().UnixMilli()})

	case "subscribe":
		c.handleSubscribe(models.Channel(msg.Channel))

	case "unsubscribe":
		c.handleUnsubscribe(models.Channel(msg.Channel))

	case "price.calculate":
		if c.Type == models.ConnectionClient && len(msg.Data) > 0 {
			c.handlePriceCalculate(msg.Data)
		}

	case "service.restart":
		if c.Type == models.ConnectionAdmin && c.Role == "admin" {
			c.handleServiceCommand("restart", msg.Data)
		}

	default:
		c.sendError(fmt.Sprintf("Unknown message type: %s", msg.Type))
	}
}

// handleSubscribe adds a channel subscription. Channels outside the
// allowed set for the connection class are ignored without a reply.
func (c *Client) handleSubscribe(channel models.Channel) {
	if !models.ChannelAllowed(channel, c.Type) {
		return
	}
	c.subsMu.Lock()
	c.subs[channel] = true
	c.subsMu.Unlock()
	c.sendEvent("subscribed", gin.H{"channel": channel})
}

func (c *Client) handleUnsubscribe(channel models.Channel) {
	if channel == "" {
		return
	}
	c.subsMu.Lock()
	delete(c.subs, channel)
	c.subsMu.Unlock()
	c.sendEvent("unsubscribed", gin.H{"channel": channel})
}

// handlePriceCalculate schedules a debounced recalculation. The
// calculating status goes out immediately so the form can show a
// pending state while edits settle.
func (c *Client) handlePriceCalculate(data json.RawMessage) {
	var input models.QuoteInput
	if err := json.Unmarshal(data, &input); err != nil {
		c.sendEvent("price.error", gin.H{
			"message":   "Invalid quote input",
			"timestamp": time.Now().UnixMilli(),
		})
		return
	}

	c.sendEvent("price.calculating", gin.H{"timestamp": time.Now().UnixMilli()})
	c.debounce.Schedule(input)
}

// runCalculation is invoked by the debouncer once input has been quiet
// for the full window. The result goes to this connection only.
func (c *Client) runCalculation(input models.QuoteInput) {
	ctx, cancel := context.WithTimeout(context.Background(), calculationBudget)
	defer cancel()

	result := c.hub.calculator.Quote(ctx, input)
	if ctx.Err() != nil {
		c.sendEvent("price.error", gin.H{
			"message":   "Calculation timed out",
			"timestamp": time.Now().UnixMilli(),
		})
		return
	}

	c.sendEvent("price.update", result)
}

// handleServiceCommand relays an admin service command to the system
// channel for operators to observe.
func (c *Client) handleServiceCommand(command string, data json.RawMessage) {
	c.hub.BroadcastToChannel(models.ChannelSystem, "service.command", gin.H{
		"command":     command,
		"data":        data,
		"initiatedBy": c.UserID,
	})
}

func (c *Client) subscribed(channel models.Channel) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subs[channel]
}

func (c *Client) subscriptionList() []string {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	list := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		list = append(list, string(ch))
	}
	return list
}

// sendEvent marshals and enqueues an event for this connection
func (c *Client) sendEvent(eventType string, data interface{}) {
	c.enqueuePayload(outboundMessage{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (c *Client) sendError(message string) {
	c.sendEvent("error", gin.H{"message": message})
}

func (c *Client) enqueuePayload(msg outboundMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("failed to marshal outbound message",
			zap.String("type", msg.Type), zap.Error(err))
		return
	}
	c.enqueue(payload)
}

// enqueue offers a frame to the send buffer. A full buffer drops the
// frame; delivery is best effort and the sweeper reaps dead peers.
func (c *Client) enqueue(payload []byte) {
	defer func() {
		// The send channel closes during unregister; a concurrent
		// broadcast may race that close.
		recover()
	}()
	select {
	case c.send <- payload:
	default:
	}
}

// closeTransport performs a hub-initiated close. The readPump exit
// path handles deregistration and debounce cancellation.
func (c *Client) closeTransport(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	c.conn.Close()
}
