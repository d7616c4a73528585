package ws

import (
	"bytes"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"space-chat/internal/models"
)

// drain reads frames until the connection fails, so control frames are
// answered and the peer keeps up with the server.
func drain(conn *websocket.Conn, frames chan<- []byte) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			close(frames)
			return
		}
		frames <- data
	}
}

func TestSlowConsumerDoesNotStallRoomDelivery(t *testing.T) {
	cfg := DefaultConnectionConfig()
	cfg.SendBuffer = 2
	cfg.WriteWait = 3 * time.Second
	srv, reg, _ := newTestServerWith(t, cfg)

	fast := dial(t, srv, "alice-token")
	slow := dial(t, srv, "bob-token")
	require.Equal(t, models.EventJoinedRoom, roundTrip(t, fast, `{"type":"join_room","data":{"room_id":7}}`).Type)
	require.Equal(t, models.EventJoinedRoom, roundTrip(t, slow, `{"type":"join_room","data":{"room_id":7}}`).Type)
	require.NoError(t, fast.SetReadDeadline(time.Time{}))

	frames := make(chan []byte, 16)
	go drain(fast, frames)

	// bob stops reading: his write loop wedges on the large frames and the
	// buffer fills until a send overflows
	big := bytes.Repeat([]byte("x"), 8<<20)
	reg.DeliverUser(3, big)
	time.Sleep(100 * time.Millisecond)
	overflowed := false
	for i := 0; i < 10 && !overflowed; i++ {
		start := time.Now()
		overflowed = reg.DeliverUser(3, big) == 0
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	}
	require.True(t, overflowed)

	small := []byte(`{"type":"new_message","room_id":7}`)
	start := time.Now()
	delivered, _ := reg.DeliverRoom(7, small)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, delivered)

	select {
	case got := <-frames:
		assert.Equal(t, small, got)
	case <-time.After(2 * time.Second):
		t.Fatal("fast session never received the room message")
	}

	assert.Eventually(t, func() bool {
		return reg.Count() == 1 && len(reg.SessionsFor(7)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMissingPongUnregistersSession(t *testing.T) {
	cfg := DefaultConnectionConfig()
	cfg.PingPeriod = 50 * time.Millisecond
	cfg.PongWait = 200 * time.Millisecond
	srv, reg, status := newTestServerWith(t, cfg)

	// never reads, so server pings go unanswered
	dial(t, srv, "alice-token")
	assert.Eventually(t, func() bool { return reg.Count() == 1 }, time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return reg.Count() == 0 && len(status.statuses()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"online", "offline"}, status.statuses())
}

func TestAnsweredPingsKeepSessionAlive(t *testing.T) {
	cfg := DefaultConnectionConfig()
	cfg.PingPeriod = 50 * time.Millisecond
	cfg.PongWait = 200 * time.Millisecond
	srv, reg, status := newTestServerWith(t, cfg)

	conn := dial(t, srv, "alice-token")
	go drain(conn, make(chan []byte, 16))

	time.Sleep(3 * cfg.PongWait)
	assert.Equal(t, 1, reg.Count())
	assert.Equal(t, []string{"online"}, status.statuses())
}

func TestCloseSendsCloseFrame(t *testing.T) {
	srv, reg, _ := newTestServer(t)
	conn := dial(t, srv, "alice-token")
	assert.Eventually(t, func() bool { return reg.Count() == 1 }, time.Second, 10*time.Millisecond)

	reg.CloseAll(websocket.CloseGoingAway, "server shutdown")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err.Error())
	assert.Eventually(t, func() bool { return reg.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
