package websocket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/fund/pkg/fund"
)

func dialTestServer(t *testing.T, s *Server) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(s)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestServerBroadcast(t *testing.T) {
	s := NewServer()
	events := make(chan fund.Event, 8)
	s.Run(events)
	defer s.Stop()

	conn, cleanup := dialTestServer(t, s)
	defer cleanup()

	require.Eventually(t, func() bool { return s.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	events <- fund.Event{Type: fund.EventFundCreated, Fund: "f1", Owner: "alice"}

	msg := readMessage(t, conn)
	assert.Equal(t, "event", msg.Type)
	assert.Equal(t, ChannelAllEvents, msg.Channel)
	assert.Equal(t, fund.EventFundCreated, msg.Data.Type)
	assert.Equal(t, "f1", msg.Data.Fund)
	assert.NotZero(t, msg.Timestamp)
}

func TestServerFundChannel(t *testing.T) {
	s := NewServer()
	events := make(chan fund.Event, 8)
	s.Run(events)
	defer s.Stop()

	conn, cleanup := dialTestServer(t, s)
	defer cleanup()

	require.Eventually(t, func() bool { return s.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	// Narrow the subscription to a single fund's channel.
	sub, _ := json.Marshal(SubscribeRequest{Type: "unsubscribe", Channels: []string{ChannelAllEvents}})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, sub))
	sub, _ = json.Marshal(SubscribeRequest{Type: "subscribe", Channels: []string{"events:f2"}})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, sub))

	// Give the read pump a beat to apply the subscription change.
	time.Sleep(50 * time.Millisecond)

	events <- fund.Event{Type: fund.EventTradeExecuted, Fund: "f1"}
	events <- fund.Event{Type: fund.EventTradeExecuted, Fund: "f2"}

	msg := readMessage(t, conn)
	assert.Equal(t, "events:f2", msg.Channel)
	assert.Equal(t, "f2", msg.Data.Fund)
}

func TestServerClientCount(t *testing.T) {
	s := NewServer()
	events := make(chan fund.Event)
	s.Run(events)

	conn, cleanup := dialTestServer(t, s)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return s.ClientCount() == 0 },
		time.Second, 10*time.Millisecond)

	cleanup()
	s.Stop()
}

func TestServerStopResetsClientCount(t *testing.T) {
	s := NewServer()
	events := make(chan fund.Event)
	s.Run(events)

	_, cleanup := dialTestServer(t, s)
	defer cleanup()
	require.Eventually(t, func() bool { return s.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	s.Stop()
	assert.Equal(t, 0, s.ClientCount())
}
