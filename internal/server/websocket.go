package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

// wsSink 将每次写入作为一条文本消息发送
type wsSink struct {
	conn *websocket.Conn
	once sync.Once
}

func (s *wsSink) Write(p []byte) (int, error) {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsSink) Close() error {
	var err error
	s.once.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

// WebSocketServer 在 HTTP 升级后的连接上承载 STOMP 帧，与 TCP 客户端共享注册中心
type WebSocketServer struct {
	broker         *protocol.Broker
	address        string
	path           string
	connectTimeout time.Duration
	upgrader       websocket.Upgrader
	httpServer     *http.Server

	mu sync.Mutex
	ln net.Listener
}

func NewWebSocketServer(broker *protocol.Broker, address, path string, connectTimeout time.Duration) *WebSocketServer {
	if path == "" {
		path = "/"
	}
	s := &WebSocketServer{
		broker:         broker,
		address:        address,
		path:           path,
		connectTimeout: connectTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: readBufferSize,
			Subprotocols:    []string{"v12.stomp", "stomp"},
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, s.handleWebSocket)
	s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s
}

func (s *WebSocketServer) Listen() error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("fail to listen on %s: %w", s.address, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

func (s *WebSocketServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *WebSocketServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return ErrServerNotListening
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	logger.InfoF("STOMP WebSocket Server Listen On ws://%s%s", ln.Addr().String(), s.path)
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return ErrServerClosed
	}
	return err
}

// Close 停止接受新的升级请求，已升级的连接不受影响
func (s *WebSocketServer) Close() error {
	return s.httpServer.Close()
}

func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorF("Failed to upgrade WebSocket: %v", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	engine := s.broker.Open(&wsSink{conn: conn})
	defer engine.Close()
	connID := engine.ConnectionID()
	logger.DebugF("[%d] Serving WebSocket client %s", connID, conn.RemoteAddr().String())

	if s.connectTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.connectTimeout))
	}
	authenticated := false
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.InfoF("[%d] Client close connection", connID)
			} else {
				connection.HandleReadError(connID, err)
			}
			return
		}
		if !engine.Feed(message) {
			return
		}
		if !authenticated && engine.Authenticated() {
			authenticated = true
			_ = conn.SetReadDeadline(time.Time{})
		}
	}
}
