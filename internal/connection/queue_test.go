package connection

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tcpPair 返回一对回环 TCP 连接，第一个为服务端
func tcpPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, _ := ln.Accept()
		accepted <- conn
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server := <-accepted
	require.NotNil(t, server)
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return server.(*net.TCPConn), client.(*net.TCPConn)
}

func waitDone(t *testing.T, sink *QueuedSink) {
	t.Helper()
	select {
	case <-sink.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not finish")
	}
}

func TestQueuedSinkFlushesOnClose(t *testing.T) {
	server, client := tcpPair(t)
	sink := NewQueuedSink(server, 4)

	for _, part := range []string{"one,", "two,", "three"} {
		n, err := sink.Write([]byte(part))
		require.NoError(t, err)
		assert.Equal(t, len(part), n)
	}
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, err := io.ReadAll(client)
	require.NoError(t, err)
	assert.Equal(t, "one,two,three", string(data))
	waitDone(t, sink)

	_, err = sink.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestQueuedSinkCopiesInput(t *testing.T) {
	server, client := tcpPair(t)
	sink := NewQueuedSink(server, 4)

	buf := []byte("abc")
	_, err := sink.Write(buf)
	require.NoError(t, err)
	copy(buf, "xyz")
	require.NoError(t, sink.Close())

	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, err := io.ReadAll(client)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestQueuedSinkOverflowShutsDownConnection(t *testing.T) {
	server, client := tcpPair(t)
	_ = client.SetReadBuffer(4 << 10)
	sink := NewQueuedSink(server, 2)

	chunk := bytes.Repeat([]byte("x"), 64<<10)
	var err error
	deadline := time.Now().Add(5 * time.Second)
	for err == nil && time.Now().Before(deadline) {
		_, err = sink.Write(chunk)
	}
	require.ErrorIs(t, err, ErrQueueFull)

	_, err = sink.Write(chunk)
	assert.ErrorIs(t, err, ErrConnectionClosed)

	// 读方向被关闭，服务端读取立即返回 EOF
	_ = server.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = server.Read(make([]byte, 16))
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, sink.Close())
	waitDone(t, sink)
}

func TestGracefulCloseDeliversLastWrite(t *testing.T) {
	server, client := tcpPair(t)

	// 服务端从未读取的数据
	_, err := client.Write(bytes.Repeat([]byte("j"), 64<<10))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	_, err = server.Write([]byte("ERROR"))
	require.NoError(t, err)
	require.NoError(t, GracefulClose(server, 200*time.Millisecond))

	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, err := io.ReadAll(client)
	require.NoError(t, err)
	assert.Equal(t, "ERROR", string(data))
}

func TestGracefulCloseWithoutHalfClose(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	require.NoError(t, GracefulClose(server, time.Second))

	_, err := client.Read(make([]byte, 1))
	assert.True(t, errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe), "%v", err)
}
