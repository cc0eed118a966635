package server

import (
	"net"
	"time"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/protocol"
)

type ConnectionHandler struct {
	conn           net.Conn
	engine         *protocol.Engine
	connID         int64
	connectTimeout time.Duration
}

func newConnectionHandler(conn net.Conn, engine *protocol.Engine, connectTimeout time.Duration) *ConnectionHandler {
	return &ConnectionHandler{
		conn:           conn,
		engine:         engine,
		connID:         engine.ConnectionID(),
		connectTimeout: connectTimeout,
	}
}

func (c *ConnectionHandler) handleConnection() {
	// engine.Close 会通过注册中心关闭 conn
	defer c.engine.Close()
	logger.DebugF("[%d] Serving %s", c.connID, c.conn.RemoteAddr().String())

	if c.connectTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.connectTimeout))
	}

	authenticated := false
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			if !c.engine.Feed(buf[:n]) {
				logger.DebugF("[%d] Session terminated, closing connection", c.connID)
				return
			}
			if !authenticated && c.engine.Authenticated() {
				authenticated = true
				_ = c.conn.SetReadDeadline(time.Time{})
			}
		}
		if err != nil {
			connection.HandleReadError(c.connID, err)
			return
		}
	}
}
