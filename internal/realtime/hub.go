package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jag18729/guard-quote-sub000/internal/config"
	"github.com/jag18729/guard-quote-sub000/internal/models"
	"github.com/jag18729/guard-quote-sub000/internal/monitoring"
	"github.com/jag18729/guard-quote-sub000/internal/pricing"
)

// AdminIdentity is the authenticated identity attached to an admin
// connection at handshake time.
type AdminIdentity struct {
	UserID int
	Role   string
}

// Hub owns the registry of live WebSocket connections and routes
// inbound messages and outbound broadcasts. The registry is mutated
// only through hub operations.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Client

	calculator *pricing.Calculator
	cfg        config.WebSocketConfig
	upgrader   websocket.Upgrader
	logger     *zap.Logger

	// rdb fans broadcasts out to sibling instances over Pub/Sub.
	// nil disables cross-instance delivery.
	rdb        *redis.Client
	instanceID string

	totalConnections int64
	peakConnections  int

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates the connection hub. rdb may be nil when running a
// single instance without cross-instance fan-out.
func NewHub(calculator *pricing.Calculator, rdb *redis.Client, cfg config.WebSocketConfig, logger *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*Client),
		calculator:  calculator,
		cfg:         cfg,
		logger:      logger,
		rdb:         rdb,
		instanceID:  "hub_" + uuid.NewString(),
		done:        make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				if !cfg.CheckOrigin {
					// The edge proxy enforces origins in production.
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || strings.HasSuffix(origin, r.Host)
			},
		},
	}
}

// Run starts the stale-connection sweeper and, when a Redis client is
// present, the cross-instance broadcast consumer. Blocks until Shutdown.
func (h *Hub) Run() {
	if h.rdb != nil {
		go h.consumeFanout()
	}

	interval := time.Duration(h.cfg.SweepIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.sweepStale()
		case <-h.done:
			return
		}
	}
}

// Shutdown stops the sweeper and closes every live connection
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() { close(h.done) })

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.connections))
	for _, c := range h.connections {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.closeTransport(websocket.CloseGoingAway, "server shutting down")
	}
}

// HandleClient upgrades an anonymous quote-client connection
func (h *Hub) HandleClient(c *gin.Context) {
	h.handleUpgrade(c, models.ConnectionClient, nil)
}

// HandleAdmin upgrades an authenticated admin connection
func (h *Hub) HandleAdmin(c *gin.Context, identity AdminIdentity) {
	h.handleUpgrade(c, models.ConnectionAdmin, &identity)
}

func (h *Hub) handleUpgrade(c *gin.Context, connType models.ConnectionType, identity *AdminIdentity) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to upgrade connection"})
		return
	}

	client := &Client{
		ID:          "ws_" + uuid.NewString(),
		Type:        connType,
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		subs:        make(map[models.Channel]bool),
		connectedAt: time.Now(),
	}
	client.lastPing.Store(time.Now().UnixMilli())
	if identity != nil {
		client.UserID = identity.UserID
		client.Role = identity.Role
	}
	for _, ch := range models.DefaultSubscriptions(connType) {
		client.subs[ch] = true
	}
	client.debounce = newDebouncer(time.Duration(h.cfg.DebounceMs)*time.Millisecond, client.runCalculation)

	h.register(client)

	// The welcome must be the first frame on the wire, ahead of any
	// broadcast triggered by this registration.
	client.sendEvent("connected", gin.H{
		"clientId":      client.ID,
		"serverTime":    time.Now().UnixMilli(),
		"subscriptions": client.subscriptionList(),
	})

	go client.writePump()
	go client.readPump()

	if client.Type == models.ConnectionAdmin {
		h.BroadcastToChannel(models.ChannelSystem, "admin.connected", gin.H{
			"userId": client.UserID,
			"role":   client.Role,
		})
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.connections[client.ID] = client
	h.totalConnections++
	if len(h.connections) > h.peakConnections {
		h.peakConnections = len(h.connections)
	}
	total := len(h.connections)
	h.mu.Unlock()

	monitoring.ConnectionsActive.WithLabelValues(string(client.Type)).Inc()
	h.logger.Info("websocket connected",
		zap.String("client_id", client.ID),
		zap.String("type", string(client.Type)),
		zap.Int("total", total))
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	_, known := h.connections[client.ID]
	if known {
		delete(h.connections, client.ID)
	}
	total := len(h.connections)
	h.mu.Unlock()

	if !known {
		return
	}

	client.debounce.Cancel()
	close(client.send)
	monitoring.ConnectionsActive.WithLabelValues(string(client.Type)).Dec()
	h.logger.Info("websocket disconnected",
		zap.String("client_id", client.ID),
		zap.Int("total", total))

	if client.Type == models.ConnectionAdmin {
		h.BroadcastToChannel(models.ChannelSystem, "admin.disconnected", gin.H{
			"userId": client.UserID,
		})
	}
}

// BroadcastToChannel delivers an event to every currently-open local
// connection subscribed to the channel and relays it to sibling
// instances. Delivery is best effort; there is no replay for
// connections that are not open.
func (h *Hub) BroadcastToChannel(channel models.Channel, eventType string, data interface{}) {
	payload, err := json.Marshal(outboundMessage{
		Type:      eventType,
		Channel:   string(channel),
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast", zap.String("event", eventType), zap.Error(err))
		return
	}

	h.deliverLocal(channel, payload)
	h.publishFanout(channel, payload)
}

func (h *Hub) deliverLocal(channel models.Channel, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.connections {
		if client.subscribed(channel) {
			client.enqueue(payload)
		}
	}
}

// fanoutChannel is the Pub/Sub topic shared by all hub instances
const fanoutChannel = "guardquote:events"

// fanoutEnvelope carries one broadcast between instances. Origin lets
// the publishing instance skip its own relayed message.
type fanoutEnvelope struct {
	Origin  string          `json:"origin"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

func (h *Hub) publishFanout(channel models.Channel, payload []byte) {
	if h.rdb == nil {
		return
	}

	body, err := json.Marshal(fanoutEnvelope{
		Origin:  h.instanceID,
		Channel: string(channel),
		Payload: payload,
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.rdb.Publish(ctx, fanoutChannel, body).Err(); err != nil {
		h.logger.Warn("broadcast fan-out publish failed", zap.Error(err))
	}
}

// consumeFanout relays broadcasts published by sibling instances to
// this instance's local subscribers.
func (h *Hub) consumeFanout() {
	sub := h.rdb.Subscribe(context.Background(), fanoutChannel)
	defer sub.Close()

	messages := sub.Channel()
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var env fanoutEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				h.logger.Warn("discarding malformed fan-out message", zap.Error(err))
				continue
			}
			if env.Origin == h.instanceID {
				continue
			}
			h.deliverLocal(models.Channel(env.Channel), env.Payload)
		case <-h.done:
			return
		}
	}
}

// SendToClient delivers an event to a single connection by id
func (h *Hub) SendToClient(clientID string, eventType string, data interface{}) {
	h.mu.RLock()
	client, ok := h.connections[clientID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	client.sendEvent(eventType, data)
}

// sweepStale closes connections that have gone quiet for longer than
// the configured threshold.
func (h *Hub) sweepStale() {
	threshold := time.Duration(h.cfg.StaleAfterSec) * time.Second
	now := time.Now().UnixMilli()

	h.mu.RLock()
	var stale []*Client
	for _, client := range h.connections {
		if now-client.lastPing.Load() > threshold.Milliseconds() {
			stale = append(stale, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stale {
		h.logger.Info("closing stale connection", zap.String("client_id", client.ID))
		client.closeTransport(websocket.CloseNormalClosure, "connection timeout")
	}
}

// ConnectionInfo describes one live connection for the stats endpoint
type ConnectionInfo struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	UserID        int      `json:"userId,omitempty"`
	Role          string   `json:"role,omitempty"`
	Subscriptions []string `json:"subscriptions"`
	ConnectedAt   string   `json:"connectedAt"`
	LastPing      string   `json:"lastPing"`
}

// Stats summarizes hub state for observability endpoints
type Stats struct {
	Total            int              `json:"total"`
	Admin            int              `json:"admin"`
	Client           int              `json:"client"`
	Peak             int              `json:"peak"`
	TotalConnections int64            `json:"totalConnections"`
	Connections      []ConnectionInfo `json:"connections"`
}

// Stats returns a snapshot of the connection registry
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{
		Total:            len(h.connections),
		Peak:             h.peakConnections,
		TotalConnections: h.totalConnections,
		Connections:      make([]ConnectionInfo, 0, len(h.connections)),
	}
	for _, client := range h.connections {
		if client.Type == models.ConnectionAdmin {
			stats.Admin++
		} else {
			stats.Client++
		}
		stats.Connections = append(stats.Connections, ConnectionInfo{
			ID:            client.ID,
			Type:          string(client.Type),
			UserID:        client.UserID,
			Role:          client.Role,
			Subscriptions: client.subscriptionList(),
			ConnectedAt:   client.connectedAt.UTC().Format(time.RFC3339),
			LastPing:      time.UnixMilli(client.lastPing.Load()).UTC().Format(time.RFC3339),
		})
	}
	return stats
}
