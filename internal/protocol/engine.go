package protocol

import (
	"io"
	"sync"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/stomp"
)

// Broker 所有会话共享的依赖
type Broker struct {
	Registry   *connection.Registry
	Directory  UserDirectory
	MessageIDs *MessageIDGenerator
	ServerName string
}

func NewBroker(registry *connection.Registry, directory UserDirectory, serverName string) *Broker {
	return &Broker{
		Registry:   registry,
		Directory:  directory,
		MessageIDs: NewMessageIDGenerator(),
		ServerName: serverName,
	}
}

// Open 为新连接分配ID、登记出站端并创建协议引擎
func (b *Broker) Open(sink io.WriteCloser) *Engine {
	connID := b.Registry.NextConnectionID()
	b.Registry.Register(connID, sink)
	return NewEngine(connID, b)
}

// Engine 将解码器与会话组合在一起，是执行器唯一需要驱动的对象。
// 同一时刻只能被一个 goroutine 使用
type Engine struct {
	decoder   *stomp.Decoder
	session   *Session
	registry  *connection.Registry
	closeOnce sync.Once
}

func NewEngine(connID int64, broker *Broker) *Engine {
	return &Engine{
		decoder:  stomp.NewDecoder(),
		session:  NewSession(connID, broker),
		registry: broker.Registry,
	}
}

func (e *Engine) ConnectionID() int64 {
	return e.session.connID
}

// Authenticated 报告会话是否已完成 CONNECT
func (e *Engine) Authenticated() bool {
	return e.session.State() == Authenticated
}

// Feed 处理一段入站字节，返回连接是否应当继续读取。
// 会话终止后同一批次中剩余的帧被丢弃
func (e *Engine) Feed(p []byte) bool {
	if e.session.Terminated() {
		return false
	}
	for _, raw := range e.decoder.Decode(p) {
		frame, err := stomp.Parse(raw)
		if err != nil {
			e.session.reject(raw, "", newFrameError(ErrMalformedFrame, "Malformed frame").withDetail("%v", err))
		} else {
			e.session.Process(frame)
		}
		if e.session.Terminated() {
			return false
		}
	}
	return true
}

// Close 终止会话、登出用户并从注册中心移除连接，只生效一次
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.session.terminate()
		e.registry.Disconnect(e.session.connID)
		logger.DebugF("[%d] Engine closed", e.session.connID)
	})
}
