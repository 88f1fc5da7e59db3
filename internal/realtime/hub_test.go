package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jag18729/guard-quote-sub000/internal/config"
	"github.com/jag18729/guard-quote-sub000/internal/models"
	"github.com/jag18729/guard-quote-sub000/internal/pricing"
	"github.com/jag18729/guard-quote-sub000/internal/reference"
)

type stubGateway struct{}

func (stubGateway) GetEventType(_ context.Context, code string) (reference.EventTypeRecord, error) {
	return reference.EventTypeRecord{}, reference.ErrNotFound
}

func (stubGateway) ListEventTypes(_ context.Context) ([]reference.EventTypeRecord, error) {
	return nil, nil
}

func (stubGateway) GetLocation(_ context.Context, zip string) (reference.LocationRecord, error) {
	return reference.LocationRecord{}, reference.ErrNotFound
}

func (stubGateway) HistoricalSampleCount(_ context.Context, _ string, _ int) (int64, error) {
	return 0, nil
}

func (stubGateway) Ping(_ context.Context) error { return nil }

type receivedEvent struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func newTestHub(t *testing.T, debounceMs int) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	calc := pricing.NewCalculator(nil, stubGateway{}, zap.NewNop())
	hub := NewHub(calc, nil, config.WebSocketConfig{
		DebounceMs:       debounceMs,
		StaleAfterSec:    300,
		SweepIntervalSec: 60,
	}, zap.NewNop())

	router := gin.New()
	router.GET("/ws", hub.HandleClient)
	router.GET("/ws/admin", func(c *gin.Context) {
		hub.HandleAdmin(c, AdminIdentity{UserID: 7, Role: "admin"})
	})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return hub, srv
}

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) receivedEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var event receivedEvent
	require.NoError(t, json.Unmarshal(raw, &event))
	return event
}

// awaitEvent drains frames until one of the wanted type arrives,
// skipping unrelated broadcasts such as admin presence events.
func awaitEvent(t *testing.T, conn *websocket.Conn, eventType string) receivedEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var event receivedEvent
		require.NoError(t, json.Unmarshal(raw, &event))
		if event.Type == eventType {
			return event
		}
	}
	t.Fatalf("no %q event before deadline", eventType)
	return receivedEvent{}
}

// readEvents drains frames until the deadline and returns them grouped
// by event type.
func readEvents(t *testing.T, conn *websocket.Conn, window time.Duration) map[string][]receivedEvent {
	t.Helper()
	events := make(map[string][]receivedEvent)
	deadline := time.Now().Add(window)
	for {
		conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return events
		}
		var event receivedEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			continue
		}
		events[event.Type] = append(events[event.Type], event)
	}
}

func sendMessage(t *testing.T, conn *websocket.Conn, msg interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func TestHub_WelcomeMessage(t *testing.T) {
	_, srv := newTestHub(t, 300)
	conn := dialWS(t, srv, "/ws")

	event := readEvent(t, conn)
	assert.Equal(t, "connected", event.Type)

	var welcome struct {
		ClientID      string   `json:"clientId"`
		ServerTime    int64    `json:"serverTime"`
		Subscriptions []string `json:"subscriptions"`
	}
	require.NoError(t, json.Unmarshal(event.Data, &welcome))
	assert.True(t, strings.HasPrefix(welcome.ClientID, "ws_"))
	assert.Positive(t, welcome.ServerTime)
	// anonymous connections start with no subscriptions
	assert.Empty(t, welcome.Subscriptions)
}

func TestHub_PingPong(t *testing.T) {
	_, srv := newTestHub(t, 300)
	conn := dialWS(t, srv, "/ws")
	readEvent(t, conn) // connected

	sendMessage(t, conn, gin.H{"type": "ping"})

	event := readEvent(t, conn)
	assert.Equal(t, "pong", event.Type)
	assert.Positive(t, event.Timestamp)
}

func TestHub_UnknownMessageTypeIsNonFatal(t *testing.T) {
	_, srv := newTestHub(t, 300)
	conn := dialWS(t, srv, "/ws")
	readEvent(t, conn) // connected

	sendMessage(t, conn, gin.H{"type": "bogus"})
	event := readEvent(t, conn)
	assert.Equal(t, "error", event.Type)

	// connection survives the protocol error
	sendMessage(t, conn, gin.H{"type": "ping"})
	assert.Equal(t, "pong", readEvent(t, conn).Type)
}

func TestHub_ClientChannelIsolation(t *testing.T) {
	hub, srv := newTestHub(t, 300)
	conn := dialWS(t, srv, "/ws")
	readEvent(t, conn) // connected

	sendMessage(t, conn, gin.H{"type": "subscribe", "channel": "quotes"})
	event := readEvent(t, conn)
	require.Equal(t, "subscribed", event.Type)

	// anonymous connections may not subscribe to the clients channel;
	// the request is ignored without a reply
	sendMessage(t, conn, gin.H{"type": "subscribe", "channel": "clients"})
	time.Sleep(100 * time.Millisecond)
	hub.BroadcastToChannel(models.ChannelClients, "client.created", gin.H{"id": 1})
	hub.BroadcastToChannel(models.ChannelQuotes, "quote.calculated", gin.H{"id": 2})

	events := readEvents(t, conn, 500*time.Millisecond)
	assert.Empty(t, events["subscribed"])
	assert.Empty(t, events["client.created"])
	require.Len(t, events["quote.calculated"], 1)
	assert.Equal(t, "quotes", events["quote.calculated"][0].Channel)
}

func TestHub_AdminSubscribeAnyChannel(t *testing.T) {
	hub, srv := newTestHub(t, 300)
	conn := dialWS(t, srv, "/ws/admin")
	readEvent(t, conn) // connected

	sendMessage(t, conn, gin.H{"type": "subscribe", "channel": "clients"})
	awaitEvent(t, conn, "subscribed")

	hub.BroadcastToChannel(models.ChannelClients, "client.created", gin.H{"id": 1})
	events := readEvents(t, conn, 500*time.Millisecond)
	require.Len(t, events["client.created"], 1)
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	hub, srv := newTestHub(t, 300)
	conn := dialWS(t, srv, "/ws")
	readEvent(t, conn) // connected

	sendMessage(t, conn, gin.H{"type": "subscribe", "channel": "quotes"})
	require.Equal(t, "subscribed", readEvent(t, conn).Type)

	sendMessage(t, conn, gin.H{"type": "unsubscribe", "channel": "quotes"})
	require.Equal(t, "unsubscribed", readEvent(t, conn).Type)

	hub.BroadcastToChannel(models.ChannelQuotes, "quote.calculated", gin.H{"id": 3})
	events := readEvents(t, conn, 400*time.Millisecond)
	assert.Empty(t, events["quote.calculated"])
}

func TestHub_DebouncedPriceCalculation(t *testing.T) {
	_, srv := newTestHub(t, 80)
	conn := dialWS(t, srv, "/ws")
	readEvent(t, conn) // connected

	for i := 0; i < 10; i++ {
		sendMessage(t, conn, gin.H{
			"type": "price.calculate",
			"data": gin.H{
				"event_type":   "concert",
				"location_zip": "90001",
				"num_guards":   i + 1,
				"hours":        6,
			},
		})
		time.Sleep(10 * time.Millisecond)
	}

	events := readEvents(t, conn, time.Second)
	assert.Len(t, events["price.calculating"], 10)
	require.Len(t, events["price.update"], 1)

	var result models.QuoteResult
	require.NoError(t, json.Unmarshal(events["price.update"][0].Data, &result))
	// last-submitted input wins: 10 guards
	assert.Equal(t, 10, result.Breakdown.NumGuards)
	assert.Equal(t, "formula", result.Breakdown.ModelUsed)
	assert.Greater(t, result.FinalPrice, 0.0)
}

func TestHub_AdminCannotCalculate(t *testing.T) {
	_, srv := newTestHub(t, 50)
	conn := dialWS(t, srv, "/ws/admin")
	readEvent(t, conn) // connected

	sendMessage(t, conn, gin.H{
		"type": "price.calculate",
		"data": gin.H{"event_type": "concert"},
	})

	events := readEvents(t, conn, 400*time.Millisecond)
	assert.Empty(t, events["price.calculating"])
	assert.Empty(t, events["price.update"])
}

func TestHub_ServiceCommandBroadcastsToSystem(t *testing.T) {
	_, srv := newTestHub(t, 300)
	admin := dialWS(t, srv, "/ws/admin")
	readEvent(t, admin) // connected

	observer := dialWS(t, srv, "/ws/admin")
	readEvent(t, observer) // connected

	sendMessage(t, admin, gin.H{"type": "service.restart", "data": gin.H{"service": "ml-engine"}})

	events := readEvents(t, observer, time.Second)
	require.NotEmpty(t, events["service.command"])
	assert.Equal(t, "system", events["service.command"][0].Channel)
}

func TestHub_CrossInstanceFanout(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdbA.Close()
		rdbB.Close()
	})

	calc := pricing.NewCalculator(nil, stubGateway{}, zap.NewNop())
	cfg := config.WebSocketConfig{DebounceMs: 300, StaleAfterSec: 300, SweepIntervalSec: 60}

	hubA := NewHub(calc, rdbA, cfg, zap.NewNop())
	hubB := NewHub(calc, rdbB, cfg, zap.NewNop())
	go hubA.Run()
	go hubB.Run()
	t.Cleanup(func() {
		hubA.Shutdown()
		hubB.Shutdown()
	})

	router := gin.New()
	router.GET("/ws", hubB.HandleClient)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	conn := dialWS(t, srv, "/ws")
	readEvent(t, conn) // connected
	sendMessage(t, conn, gin.H{"type": "subscribe", "channel": "quotes"})
	awaitEvent(t, conn, "subscribed")

	// let hub B's subscriber attach before publishing
	time.Sleep(200 * time.Millisecond)
	hubA.BroadcastToChannel(models.ChannelQuotes, "quote.calculated", gin.H{"id": 42})

	event := awaitEvent(t, conn, "quote.calculated")
	assert.Equal(t, "quotes", event.Channel)
}

func TestHub_StatsTracksConnections(t *testing.T) {
	hub, srv := newTestHub(t, 300)

	clientConn := dialWS(t, srv, "/ws")
	readEvent(t, clientConn)
	adminConn := dialWS(t, srv, "/ws/admin")
	readEvent(t, adminConn)

	stats := hub.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Admin)
	assert.Equal(t, 1, stats.Client)
	assert.GreaterOrEqual(t, stats.Peak, 2)
	assert.EqualValues(t, 2, stats.TotalConnections)

	clientConn.Close()
	require.Eventually(t, func() bool {
		return hub.Stats().Total == 1
	}, 2*time.Second, 20*time.Millisecond)
}
