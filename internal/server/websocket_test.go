package server

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/stomp"
)

func dialWebSocket(t *testing.T, s *WebSocketServer) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr().String()+"/stomp", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func wsSend(t *testing.T, conn *websocket.Conn, frame *stomp.Frame) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, stomp.EncodeFrame(frame)))
}

func wsExpect(t *testing.T, conn *websocket.Conn, command string) *stomp.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(ioTimeout))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)
	raws := stomp.NewDecoder().Decode(message)
	require.Len(t, raws, 1)
	frame, err := stomp.Parse(raws[0])
	require.NoError(t, err)
	require.Equal(t, command, frame.Command, "unexpected frame: %s", frame)
	return frame
}

func TestWebSocketInteroperatesWithTCP(t *testing.T) {
	tcp, broker := startServer(t, ModeThreadPerConnection, Options{})

	ws := NewWebSocketServer(broker, "127.0.0.1:0", "/stomp", time.Second)
	require.NoError(t, ws.Listen())
	done := make(chan error, 1)
	go func() { done <- ws.Serve(context.Background()) }()
	t.Cleanup(func() {
		_ = ws.Close()
		assert.ErrorIs(t, <-done, ErrServerClosed)
	})

	subscriber := dial(t, tcp.Addr())
	subscriber.connect("tcp-user")
	subscriber.send(stomp.NewFrame(stomp.SUBSCRIBE,
		stomp.HeaderDestination, "/mixed", stomp.HeaderID, "7", stomp.HeaderReceipt, "r"))
	subscriber.expect("RECEIPT")

	conn := dialWebSocket(t, ws)
	wsSend(t, conn, stomp.NewFrame(stomp.CONNECT, stomp.HeaderLogin, "ws-user", stomp.HeaderPasscode, "pw"))
	connected := wsExpect(t, conn, "CONNECTED")
	assert.Equal(t, "1.2", connected.Headers[stomp.HeaderVersion])

	send := stomp.NewFrame(stomp.SEND, stomp.HeaderDestination, "/mixed")
	send.Body = "from websocket"
	wsSend(t, conn, send)

	message := subscriber.expect("MESSAGE")
	assert.Equal(t, "7", message.Headers[stomp.HeaderSubscription])
	assert.Equal(t, "from websocket", message.Body)

	wsSend(t, conn, stomp.NewFrame(stomp.DISCONNECT, stomp.HeaderReceipt, "done"))
	assert.Equal(t, "done", wsExpect(t, conn, "RECEIPT").Headers[stomp.HeaderReceiptID])

	subscriber.send(stomp.NewFrame(stomp.DISCONNECT))
	subscriber.expectClosed()
	waitIdle(t, broker)
}

func TestWebSocketProtocolError(t *testing.T) {
	_, broker := startServer(t, ModeThreadPerConnection, Options{})
	ws := NewWebSocketServer(broker, "127.0.0.1:0", "/stomp", 0)
	require.NoError(t, ws.Listen())
	go func() { _ = ws.Serve(context.Background()) }()
	t.Cleanup(func() { _ = ws.Close() })

	conn := dialWebSocket(t, ws)
	wsSend(t, conn, stomp.NewFrame(stomp.SEND, stomp.HeaderDestination, "/x"))
	assert.Equal(t, "Not connected", wsExpect(t, conn, "ERROR").Headers[stomp.HeaderMessage])

	_ = conn.SetReadDeadline(time.Now().Add(ioTimeout))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
	waitIdle(t, broker)
}
