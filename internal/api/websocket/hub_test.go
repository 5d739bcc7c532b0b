package websocket

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(conn, hub, r.URL.Query().Get("address"), logger)
		if !hub.RegisterClient(client) {
			conn.Close()
			return
		}
		client.Start()
	}))

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, address string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?address=" + address
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubConnectedMessage(t *testing.T) {
	_, srv := newTestHub(t)
	conn := dial(t, srv, "0xAbC")

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeConnected, msg.Type)

	var payload ConnectedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "0xabc", payload.Address)
}

func TestHubSendToAddressFiltersClients(t *testing.T) {
	hub, srv := newTestHub(t)
	player := dial(t, srv, "0xaaa")
	watcher := dial(t, srv, "")
	readMessage(t, player)
	readMessage(t, watcher)

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	other, err := NewMessage(MessageTypeGuessResult, map[string]string{"address": "0xbbb"})
	require.NoError(t, err)
	own, err := NewMessage(MessageTypeGuessResult, map[string]string{"address": "0xaaa"})
	require.NoError(t, err)

	hub.SendToAddress("0xBBB", other)
	hub.SendToAddress("0xAAA", own)

	// The player only sees its own result; the unfiltered watcher sees both.
	got := readMessage(t, player)
	assert.JSONEq(t, `{"address":"0xaaa"}`, string(got.Payload))

	first := readMessage(t, watcher)
	second := readMessage(t, watcher)
	assert.JSONEq(t, `{"address":"0xbbb"}`, string(first.Payload))
	assert.JSONEq(t, `{"address":"0xaaa"}`, string(second.Payload))
}

func TestHubBroadcastPayloadAndPing(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv, "0xaaa")
	readMessage(t, conn)

	require.NoError(t, hub.BroadcastPayload(MessageTypeAgentPayment, map[string]string{"game": "SnakeGame"}))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeAgentPayment, msg.Type)

	ping, err := json.Marshal(Message{Type: MessageTypePing})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, ping))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)
}

func TestHubSubscribeChangesAddress(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv, "0xaaa")
	readMessage(t, conn)

	sub, err := NewMessage(MessageTypeSubscribe, SubscribePayload{Address: "0xCCC"})
	require.NoError(t, err)
	data, err := json.Marshal(sub)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	// Round-trip a ping so the subscribe has been handled before sending.
	ping, err := json.Marshal(Message{Type: MessageTypePing})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, ping))
	require.Equal(t, MessageTypePong, readMessage(t, conn).Type)

	msg, err := NewMessage(MessageTypeRewardSent, map[string]string{"address": "0xccc"})
	require.NoError(t, err)
	hub.SendToAddress("0xccc", msg)
	assert.Equal(t, MessageTypeRewardSent, readMessage(t, conn).Type)
}
