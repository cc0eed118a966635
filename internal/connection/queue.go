package connection

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
)

var ErrQueueFull = errors.New("connection: outbound queue is full")

const (
	DefaultQueueSize = 1024
	// closeLinger 关闭后等待队列写完的上限，超时强制关闭
	closeLinger = 5 * time.Second
)

// QueuedSink 带有界出站队列的连接，Write 从不阻塞。
// 独立的 goroutine 负责把队列写入 socket；队列溢出或写入失败时
// 双向 shutdown 连接，由读取方感知并拆除会话
type QueuedSink struct {
	conn  net.Conn
	queue chan []byte
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	linger  *time.Timer
	aborted atomic.Bool
}

func NewQueuedSink(conn net.Conn, size int) *QueuedSink {
	if size <= 0 {
		size = DefaultQueueSize
	}
	s := &QueuedSink{
		conn:  conn,
		queue: make(chan []byte, size),
		done:  make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

func (s *QueuedSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.aborted.Load() {
		return 0, ErrConnectionClosed
	}
	data := make([]byte, len(p))
	copy(data, p)
	select {
	case s.queue <- data:
		return len(p), nil
	default:
		logger.WarnF("Outbound queue of %s is full (%d frames), dropping the connection", s.conn.RemoteAddr(), cap(s.queue))
		s.abort()
		return 0, ErrQueueFull
	}
}

// Close 停止接收新数据，队列写完后优雅关闭连接。不等待写入完成
func (s *QueuedSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.linger = time.AfterFunc(closeLinger, func() { _ = s.conn.Close() })
	close(s.queue)
	s.mu.Unlock()
	return nil
}

// Done 在写入 goroutine 退出并关闭连接后关闭
func (s *QueuedSink) Done() <-chan struct{} {
	return s.done
}

// abort 双向 shutdown 而不释放 fd，阻塞中的写入立即返回，
// 读取方收到 EOF 后走正常的拆除流程
func (s *QueuedSink) abort() {
	if s.aborted.Swap(true) {
		return
	}
	if conn, ok := s.conn.(interface {
		CloseRead() error
		CloseWrite() error
	}); ok {
		_ = conn.CloseRead()
		_ = conn.CloseWrite()
		return
	}
	_ = s.conn.Close()
}

func (s *QueuedSink) writeLoop() {
	defer close(s.done)
	defer func() {
		s.mu.Lock()
		s.linger.Stop()
		s.mu.Unlock()
	}()
	for data := range s.queue {
		if s.aborted.Load() {
			continue
		}
		if _, err := s.conn.Write(data); err != nil {
			if !IsNetClosedError(err) {
				logger.WarnF("Fail to send data to %s, details: %v", s.conn.RemoteAddr(), err)
			}
			s.abort()
		}
	}
	if s.aborted.Load() {
		_ = s.conn.Close()
		return
	}
	if err := GracefulClose(s.conn, DrainTimeout); err != nil && !IsNetClosedError(err) {
		logger.WarnF("Error occured while closing %s, details: %v", s.conn.RemoteAddr(), err)
	}
}
