package stream

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(msg)
}

func TestHub_ReplaysHistory(t *testing.T) {
	hub := NewHub(2, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	hub.Publish([]byte(`{"n":1}`))
	hub.Publish([]byte(`{"n":2}`))
	hub.Publish([]byte(`{"n":3}`))

	conn := dial(t, srv)
	assert.Equal(t, `{"n":2}`, readText(t, conn))
	assert.Equal(t, `{"n":3}`, readText(t, conn))
}

func TestHub_BroadcastsLive(t *testing.T) {
	hub := NewHub(0, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.Publish([]byte(`{"event":"disclosure"}`))
	assert.Equal(t, `{"event":"disclosure"}`, readText(t, a))
	assert.Equal(t, `{"event":"disclosure"}`, readText(t, b))
}

func TestHub_DropsClosedClients(t *testing.T) {
	hub := NewHub(0, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(1, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()
	assert.Equal(t, 0, hub.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// Publishing after close is a no-op.
	hub.Publish([]byte(`{}`))
}

func TestHub_SlowClientDoesNotBlockPublish(t *testing.T) {
	hub := NewHub(0, nil)
	hub.clientBuf = 4
	srv := httptest.NewServer(hub)
	defer srv.Close()

	// Connected but never reads, so its socket buffers fill up.
	dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	big := []byte(`"` + strings.Repeat("x", 1<<20) + `"`)
	start := time.Now()
	for i := 0; i < 64; i++ {
		hub.Publish(big)
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_SlowClientDoesNotStallOthers(t *testing.T) {
	hub := NewHub(0, nil)
	hub.clientBuf = 4
	srv := httptest.NewServer(hub)
	defer srv.Close()

	dial(t, srv)
	fast := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	big := []byte(`"` + strings.Repeat("x", 1<<20) + `"`)
	for i := 0; i < 64; i++ {
		hub.Publish(big)
		require.Equal(t, string(big), readText(t, fast))
	}

	hub.Publish([]byte(`{"n":1}`))
	assert.Equal(t, `{"n":1}`, readText(t, fast))
	assert.Equal(t, 1, hub.ClientCount())
}
