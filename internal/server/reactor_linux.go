//go:build linux

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/protocol"
)

const (
	eventBatchSize = 128
	// 单次就绪事件最多读取的次数，避免一个连接独占 worker
	maxReadsPerEvent = 16
)

type reactorConn struct {
	fd     int
	conn   *net.TCPConn
	raw    syscall.RawConn
	engine *protocol.Engine
	timer  *time.Timer
}

// read 在 Go 运行时持有 fd 引用期间执行一次非阻塞读
func (rc *reactorConn) read(p []byte) (int, error) {
	var (
		n   int
		err error
	)
	if cerr := rc.raw.Read(func(fd uintptr) bool {
		n, err = unix.Read(int(fd), p)
		return true
	}); cerr != nil {
		return 0, cerr
	}
	if n < 0 {
		n = 0
	}
	return n, err
}

// ReactorServer 固定数量的 worker 共享一个 epoll 实例。
// 每个连接以 EPOLLONESHOT 注册，同一时刻只有一个 worker 处理它
type ReactorServer struct {
	listener
	broker  *protocol.Broker
	opts    Options
	workers int
	poller  *poller

	conns    sync.Map // int -> *reactorConn
	mu       sync.Mutex
	live     int
	draining bool
}

func newReactorServer(broker *protocol.Broker, opts Options) (Server, error) {
	s, err := NewReactorServer(broker, opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func NewReactorServer(broker *protocol.Broker, opts Options) (*ReactorServer, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &ReactorServer{
		listener: newListener(opts.Address),
		broker:   broker,
		opts:     opts,
		workers:  workers,
		poller:   p,
	}, nil
}

func (s *ReactorServer) Serve(ctx context.Context) error {
	if addr := s.Addr(); addr != nil {
		logger.InfoF("STOMP Server (reactor, %d workers) Listen On %s", s.workers, addr.String())
	}

	var g errgroup.Group
	for i := 0; i < s.workers; i++ {
		g.Go(s.runWorker)
	}

	acceptErr := s.acceptLoop(ctx, s.register)
	if !errors.Is(acceptErr, ErrServerClosed) {
		_ = s.listener.Close()
	}
	s.startDraining()

	err := g.Wait()
	// worker 已全部退出，剩余连接可以安全释放
	s.conns.Range(func(_, value any) bool {
		s.release(value.(*reactorConn))
		return true
	})
	if closeErr := s.poller.close(); closeErr != nil {
		logger.WarnF("Fail to close poller, details: %v", closeErr)
	}
	if err != nil {
		return err
	}
	return acceptErr
}

func (s *ReactorServer) Close() error {
	return s.listener.Close()
}

// startDraining 停止接受新连接，在线连接全部结束后唤醒 worker 退出
func (s *ReactorServer) startDraining() {
	s.mu.Lock()
	s.draining = true
	idle := s.live == 0
	s.mu.Unlock()
	if idle {
		s.wakeWorkers()
	}
}

func (s *ReactorServer) wakeWorkers() {
	if err := s.poller.wake(); err != nil {
		logger.ErrorF("Fail to wake reactor workers, details: %v", err)
	}
}

func (s *ReactorServer) register(conn net.Conn) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		logger.ErrorF("Reactor only serves TCP connections, got %T", conn)
		_ = conn.Close()
		return
	}
	raw, err := tcpConn.SyscallConn()
	if err != nil {
		logger.ErrorF("Fail to access raw connection, details: %v", err)
		_ = conn.Close()
		return
	}
	fd := -1
	if err = raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		logger.ErrorF("Fail to access connection fd, details: %v", err)
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.live++
	s.mu.Unlock()

	// 出站帧经由队列写出，广播不会阻塞在慢消费者上
	sink := connection.NewQueuedSink(tcpConn, s.opts.OutboundQueue)
	rc := &reactorConn{fd: fd, conn: tcpConn, raw: raw, engine: s.broker.Open(sink)}
	if s.opts.ConnectTimeout > 0 {
		rc.timer = time.AfterFunc(s.opts.ConnectTimeout, func() {
			if !rc.engine.Authenticated() {
				logger.WarnF("[%d] No CONNECT within %v, closing", rc.engine.ConnectionID(), s.opts.ConnectTimeout)
				_ = tcpConn.CloseRead()
			}
		})
	}
	s.conns.Store(fd, rc)

	if err = s.poller.add(fd); err != nil {
		logger.ErrorF("[%d] Fail to register connection with epoll, details: %v", rc.engine.ConnectionID(), err)
		s.release(rc)
	}
}

func (s *ReactorServer) runWorker() error {
	events := make([]unix.EpollEvent, eventBatchSize)
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.poller.wait(events)
		if err != nil {
			s.wakeWorkers()
			return fmt.Errorf("epoll_wait: %w", err)
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if s.poller.isWake(fd) {
				return nil
			}
			if value, ok := s.conns.Load(fd); ok {
				s.service(value.(*reactorConn), buf)
			}
		}
	}
}

// service 非阻塞地读取连接直到 EAGAIN 或读满次数上限，然后重新启用事件
func (s *ReactorServer) service(rc *reactorConn, buf []byte) {
	connID := rc.engine.ConnectionID()
	for i := 0; i < maxReadsPerEvent; i++ {
		n, err := rc.read(buf)
		if n > 0 {
			if !rc.engine.Feed(buf[:n]) {
				logger.DebugF("[%d] Session terminated, closing connection", connID)
				s.release(rc)
				return
			}
			if rc.timer != nil && rc.engine.Authenticated() {
				rc.timer.Stop()
				rc.timer = nil
			}
		}
		switch {
		case errors.Is(err, unix.EAGAIN):
			s.rearm(rc)
			return
		case err != nil:
			connection.HandleReadError(connID, err)
			s.release(rc)
			return
		case n == 0:
			connection.HandleReadError(connID, io.EOF)
			s.release(rc)
			return
		}
	}
	s.rearm(rc)
}

func (s *ReactorServer) rearm(rc *reactorConn) {
	if err := s.poller.rearm(rc.fd); err != nil {
		logger.ErrorF("[%d] Fail to rearm connection, details: %v", rc.engine.ConnectionID(), err)
		s.release(rc)
	}
}

// release 注销连接并关闭会话，只由持有该连接的 worker 调用
func (s *ReactorServer) release(rc *reactorConn) {
	if _, loaded := s.conns.LoadAndDelete(rc.fd); !loaded {
		return
	}
	if err := s.poller.remove(rc.fd); err != nil {
		logger.WarnF("[%d] Fail to remove connection from epoll, details: %v", rc.engine.ConnectionID(), err)
	}
	if rc.timer != nil {
		rc.timer.Stop()
	}
	rc.engine.Close()

	s.mu.Lock()
	s.live--
	idle := s.draining && s.live == 0
	s.mu.Unlock()
	if idle {
		s.wakeWorkers()
	}
}
