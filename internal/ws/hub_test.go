package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoHandler struct {
	hub    *Hub
	opened chan *Client
	closed chan *Client
}

func (h *echoHandler) OnOpen(c *Client) {
	h.hub.Subscribe(c.ID, TopicAdmin)
	h.opened <- c
}

func (h *echoHandler) OnMessage(c *Client, msg Message) {
	h.hub.Reply(c, msg, Reply{Status: true, Data: string(msg.Data)})
}

func (h *echoHandler) OnClose(c *Client) {
	h.closed <- c
}

func startHub(t *testing.T) (*Hub, *echoHandler, string) {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	hub := NewHub(logger, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	h := &echoHandler{hub: hub, opened: make(chan *Client, 4), closed: make(chan *Client, 4)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, RoleOperator, "op-1", h)
	}))
	t.Cleanup(srv.Close)
	return hub, h, "ws" + strings.TrimPrefix(srv.URL, "http") + "/?lat=25.03"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestHub_PublishPreservesOrder(t *testing.T) {
	hub, h, url := startHub(t)
	conn := dial(t, url)
	c := <-h.opened
	assert.Equal(t, "25.03", c.Query["lat"])
	assert.True(t, hub.Connected(c.ID))

	for _, ev := range []string{"tripUpdate", "driverConnection", "location"} {
		hub.Publish(TopicAdmin, ev, map[string]string{"k": ev})
	}
	for _, want := range []string{"tripUpdate", "driverConnection", "location"} {
		got := readFrame(t, conn)
		assert.Equal(t, want, got["event"])
	}
}

func TestHub_ReplyGoesToOriginOnly(t *testing.T) {
	hub, h, url := startHub(t)
	a := dial(t, url)
	<-h.opened
	b := dial(t, url)
	<-h.opened

	require.NoError(t, a.WriteJSON(Message{Event: "pullTrip", ID: "req-1", Data: json.RawMessage(`"t1"`)}))
	got := readFrame(t, a)
	assert.Equal(t, "pullTrip", got["event"])
	assert.Equal(t, "req-1", got["id"])
	data := got["data"].(map[string]any)
	assert.Equal(t, true, data["status"])

	// b only sees the next broadcast, never a's reply
	hub.Publish(TopicAdmin, "tripUpdate", nil)
	got = readFrame(t, b)
	assert.Equal(t, "tripUpdate", got["event"])
}

func TestHub_MalformedFrameGetsErrorReply(t *testing.T) {
	_, h, url := startHub(t)
	conn := dial(t, url)
	<-h.opened

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	got := readFrame(t, conn)
	assert.Equal(t, "error", got["event"])
	data := got["data"].(map[string]any)
	assert.Equal(t, false, data["status"])
}

func TestHub_CloseUnregisters(t *testing.T) {
	hub, h, url := startHub(t)
	conn := dial(t, url)
	c := <-h.opened

	require.NoError(t, conn.Close())
	select {
	case closed := <-h.closed:
		assert.Equal(t, c.ID, closed.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called")
	}
	assert.False(t, hub.Connected(c.ID))

	// publishing to a topic without subscribers is a no-op
	hub.Publish(TopicAdmin, "tripUpdate", nil)
	hub.SendTo(c.ID, "newTrip", nil)
}
