package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruralpay/playcard/internal/config"
	"github.com/ruralpay/playcard/internal/models"
)

type recordingIngestor struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingIngestor) Touch(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

func (r *recordingIngestor) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func testRealtimeConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		SendQueueSize:  8,
		WriteTimeout:   time.Second,
		PongWait:       5 * time.Second,
		PingInterval:   time.Second,
		MaxMessageSize: 4096,
	}
}

func setupWSServer(t *testing.T, reg *Registry, ingestor ScanIngestor) string {
	upgrader := NewUpgrader()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewWSObserver(conn, reg, ingestor, testRealtimeConfig(), nil).Run(r.Context())
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSObserver_ReceivesEvents(t *testing.T) {
	reg := NewRegistry()
	url := setupWSServer(t, reg, nil)
	b := NewBroadcaster(reg, nil)

	first := dial(t, url)
	second := dial(t, url)
	require.Eventually(t, func() bool { return reg.Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	b.Publish(updateEvent("W1", 40))
	b.Publish(models.NewScanEvent("W1"))

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

		var update map[string]any
		require.NoError(t, conn.ReadJSON(&update))
		assert.Equal(t, "update", update["type"])
		data := update["data"].(map[string]any)
		assert.Equal(t, "W1", data["card"].(map[string]any)["id"])
		assert.Equal(t, float64(40), data["card"].(map[string]any)["balance"])

		var scan map[string]any
		require.NoError(t, conn.ReadJSON(&scan))
		assert.Equal(t, "scan", scan["type"])
		assert.Equal(t, "W1", scan["data"].(map[string]any)["cardId"])
	}
}

func TestWSObserver_IngestsScans(t *testing.T) {
	reg := NewRegistry()
	ingestor := &recordingIngestor{}
	url := setupWSServer(t, reg, ingestor)

	conn := dial(t, url)
	require.Eventually(t, func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	frames := []string{
		`not json`,
		`{"type":"update","data":{"cardId":"IGNORED"}}`,
		`{"type":"scan","data":{}}`,
		`{"type":"scan","data":{"cardId":"   "}}`,
		`{"type":"scan","data":{"cardId":"S-42"}}`,
	}
	for _, f := range frames {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(f)))
	}

	require.Eventually(t, func() bool { return len(ingestor.IDs()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"S-42"}, ingestor.IDs())
	assert.Equal(t, 1, reg.Len(), "malformed frames do not drop the connection")
}

func TestWSObserver_Disconnect(t *testing.T) {
	t.Run("client close unregisters", func(t *testing.T) {
		reg := NewRegistry()
		url := setupWSServer(t, reg, nil)

		conn := dial(t, url)
		require.Eventually(t, func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

		require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
		conn.Close()

		require.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
		NewBroadcaster(reg, nil).Publish(updateEvent("W2", 1))
	})

	t.Run("server close sends close frame", func(t *testing.T) {
		reg := NewRegistry()
		url := setupWSServer(t, reg, nil)

		conn := dial(t, url)
		require.Eventually(t, func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

		reg.CloseAll()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	})
}

func TestWSObserver_SendAfterClose(t *testing.T) {
	o := NewWSObserver(nil, NewRegistry(), nil, config.RealtimeConfig{SendQueueSize: 1}, nil)

	require.NoError(t, o.Send([]byte("a")))
	assert.ErrorIs(t, o.Send([]byte("b")), ErrQueueFull)

	o.Close()
	o.Close()
	assert.ErrorIs(t, o.Send([]byte("c")), ErrObserverClosed)
}

func TestInboundFrameShape(t *testing.T) {
	var frame inboundFrame
	require.NoError(t, json.Unmarshal([]byte(`{"type":"scan","data":{"cardId":"A1"}}`), &frame))
	assert.Equal(t, models.EventTypeScan, frame.Type)
	assert.Equal(t, "A1", frame.Data.CardID)
}
