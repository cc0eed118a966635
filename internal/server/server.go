// Package server 提供驱动协议引擎的连接执行器：
// tpc 为每个连接启动一个 goroutine，reactor 由固定数量的 worker 共享一个 epoll 实例
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/protocol"
)

const readBufferSize = 4 << 10

var (
	ErrServerClosed       = errors.New("server closed")
	ErrReactorUnsupported = errors.New("reactor mode is only supported on linux")
	ErrUnknownMode        = errors.New("unknown server mode")
	ErrServerNotListening = errors.New("server is not listening")
)

// Mode 连接执行模型
type Mode string

const (
	ModeThreadPerConnection Mode = "tpc"
	ModeReactor             Mode = "reactor"
)

func ParseMode(s string) (Mode, error) {
	switch mode := Mode(strings.ToLower(strings.TrimSpace(s))); mode {
	case ModeThreadPerConnection, ModeReactor:
		return mode, nil
	case "":
		return ModeThreadPerConnection, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Server 执行器的公共生命周期。Close 只停止接受新连接，
// 已建立的会话运行到各自终止为止
type Server interface {
	Listen() error
	Serve(ctx context.Context) error
	Close() error
	Addr() net.Addr
}

type Options struct {
	Address        string
	Workers        int
	MaxConnections int
	ConnectTimeout time.Duration
	// OutboundQueue 每个连接出站队列可容纳的帧数，溢出时断开该连接
	OutboundQueue int
}

func New(mode Mode, broker *protocol.Broker, opts Options) (Server, error) {
	switch mode {
	case ModeThreadPerConnection:
		return NewTPCServer(broker, opts), nil
	case ModeReactor:
		return newReactorServer(broker, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// ListenAndServe 监听并阻塞服务，正常关闭时返回 nil
func ListenAndServe(ctx context.Context, s Server) error {
	if err := s.Listen(); err != nil {
		return err
	}
	if err := s.Serve(ctx); err != nil && !errors.Is(err, ErrServerClosed) {
		return err
	}
	return nil
}

// listener TCP 监听与接受循环，tpc 与 reactor 共用
type listener struct {
	address string
	mu      sync.Mutex
	ln      net.Listener
	closed  bool
	done    chan struct{}
}

func newListener(address string) listener {
	return listener{address: address, done: make(chan struct{})}
}

func (l *listener) Listen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrServerClosed
	}
	ln, err := net.Listen("tcp", l.address)
	if err != nil {
		return fmt.Errorf("fail to listen on %s: %w", l.address, err)
	}
	l.ln = ln
	return nil
}

func (l *listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.done)
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}

func (l *listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// acceptLoop 持续接受连接直到监听关闭，接受失败时指数退避
func (l *listener) acceptLoop(ctx context.Context, handle func(net.Conn)) error {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		return ErrServerNotListening
	}

	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if tempDelay > time.Second {
				tempDelay = time.Second
			}
			logger.ErrorF("Accept connection error: %v; retrying in %v", err, tempDelay)
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0

		logger.DebugF("Accepted new connection from %s", conn.RemoteAddr().String())
		handle(conn)
	}
}
