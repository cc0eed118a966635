// Package connection 实现了连接表与订阅表的共享注册中心
package connection

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
)

var ErrConnectionClosed = errors.New("connection: connection is closed")

// Connection 表示一个客户端连接的出站端
type Connection struct {
	ID     int64
	mu     sync.Mutex
	sink   io.WriteCloser
	closed atomic.Bool
}

func newConnection(id int64, sink io.WriteCloser) *Connection {
	return &Connection{ID: id, sink: sink}
}

// write 串行化对同一连接的写入，保证帧不会交错
func (c *Connection) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return Send(c.sink, data, c.ID)
}

// close 不持有写锁，关闭出站端可以打断阻塞中的写入
func (c *Connection) close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.sink.Close()
}

// Send 发送数据到客户端
func Send(w io.Writer, data []byte, connID int64) error {
	total := 0
	for total < len(data) {
		n, err := w.Write(data[total:])
		if err != nil {
			logger.ErrorF("[%d] Fail to send data, details: %v", connID, err)
			return err
		}
		total += n
	}
	logger.DebugF("[%d] Send %d bytes to client", connID, total)
	return nil
}

func IsNetClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	ok := errors.As(err, &opErr)
	return ok && opErr.Timeout()
}

func HandleReadError(connID int64, err error) {
	switch {
	case errors.Is(err, io.EOF):
		logger.InfoF("[%d] Client close connection", connID)
	case os.IsTimeout(err):
		logger.WarnF("[%d] Reading timeout", connID)
	case errors.Is(err, net.ErrClosed):
		logger.DebugF("[%d] Connection closed locally", connID)
	default:
		logger.ErrorF("[%d] Error occured while reading frame, details: %v", connID, err)
	}
}
