package server

import (
	"context"
	"net"
	"sync"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/protocol"
)

// TPCServer 每个连接一个 goroutine，阻塞读取
type TPCServer struct {
	listener
	broker *protocol.Broker
	opts   Options
	sem    chan struct{}
	wg     sync.WaitGroup
}

func NewTPCServer(broker *protocol.Broker, opts Options) *TPCServer {
	s := &TPCServer{
		listener: newListener(opts.Address),
		broker:   broker,
		opts:     opts,
	}
	if opts.MaxConnections > 0 {
		s.sem = make(chan struct{}, opts.MaxConnections)
	}
	return s
}

func (s *TPCServer) Serve(ctx context.Context) error {
	if addr := s.Addr(); addr != nil {
		logger.InfoF("STOMP Server (tpc) Listen On %s", addr.String())
	}
	return s.acceptLoop(ctx, func(conn net.Conn) {
		if s.sem != nil {
			select {
			case s.sem <- struct{}{}:
			case <-s.done:
				_ = conn.Close()
				return
			}
		}
		sink := connection.NewQueuedSink(conn, s.opts.OutboundQueue)
		handler := newConnectionHandler(conn, s.broker.Open(sink), s.opts.ConnectTimeout)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			handler.handleConnection()
			if s.sem != nil {
				<-s.sem
			}
		}()
	})
}

// wait 阻塞直到所有连接处理结束
func (s *TPCServer) wait() {
	s.wg.Wait()
}
