package connection

import (
	"io"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/stomp"
)

// Registry 连接与订阅注册中心，所有会话共享同一个实例
//
// connections 保存 connection-id -> 出站连接；destinations 保存
// destination -> (connection-id -> subscription-id)。destinations 的修改与
// 连接表的删除在同一把锁下完成，因此断开的连接不会再出现在之后的广播快照里。
type Registry struct {
	connections  sync.Map // int64 -> *Connection
	mu           sync.RWMutex
	destinations map[string]map[int64]string

	lastID     atomic.Int64
	live       atomic.Int64
	framesSent atomic.Uint64
	broadcasts atomic.Uint64
}

// Stats 注册中心的聚合统计
type Stats struct {
	Connections   int64
	Destinations  int
	Subscriptions int
	FramesSent    uint64
	Broadcasts    uint64
}

func NewRegistry() *Registry {
	return &Registry{destinations: make(map[string]map[int64]string)}
}

// NextConnectionID 分配进程内唯一、单调递增的连接ID
func (r *Registry) NextConnectionID() int64 {
	return r.lastID.Add(1)
}

// Register 登记连接的出站端，重复登记同一ID无效
func (r *Registry) Register(connID int64, sink io.WriteCloser) {
	if _, loaded := r.connections.LoadOrStore(connID, newConnection(connID, sink)); loaded {
		return
	}
	r.live.Add(1)
	logger.DebugF("[%d] Connection registered", connID)
}

// Unregister 仅从连接表中移除连接，不关闭出站端
func (r *Registry) Unregister(connID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(connID)
}

func (r *Registry) removeLocked(connID int64) (*Connection, bool) {
	value, loaded := r.connections.LoadAndDelete(connID)
	if !loaded {
		return nil, false
	}
	r.live.Add(-1)
	return value.(*Connection), true
}

// isLive 报告连接是否仍然在线
func (r *Registry) isLive(connID int64) bool {
	_, ok := r.connections.Load(connID)
	return ok
}

// SendTo 向指定连接发送一帧，连接不存在或写入失败时返回 false
func (r *Registry) SendTo(connID int64, frame *stomp.Frame) bool {
	value, ok := r.connections.Load(connID)
	if !ok {
		logger.DebugF("[%d] Drop %s frame for unknown connection", connID, frame.Command)
		return false
	}
	if err := value.(*Connection).write(stomp.EncodeFrame(frame)); err != nil {
		return false
	}
	r.framesSent.Add(1)
	return true
}

// Broadcast 向目的地的订阅者快照投递模板帧，每个接收者的 subscription
// 帧头被替换为该接收者自己的订阅ID。返回成功投递的数量。
func (r *Registry) Broadcast(destination string, template *stomp.Frame) int {
	snapshot := r.Subscribers(destination)
	r.broadcasts.Add(1)

	delivered := 0
	for connID, subscriptionID := range snapshot {
		frame := template.Clone()
		frame.SetHeader(stomp.HeaderSubscription, subscriptionID)
		if r.SendTo(connID, frame) {
			delivered++
		}
	}
	logger.DebugF("Broadcast to %s delivered %d/%d", destination, delivered, len(snapshot))
	return delivered
}

// Subscribers 返回目的地当前订阅者的拷贝
func (r *Registry) Subscribers(destination string) map[int64]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.destinations[destination])
}

// Subscribe 建立或覆盖连接在目的地上的订阅ID；连接已经断开时忽略
func (r *Registry) Subscribe(destination string, connID int64, subscriptionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections.Load(connID); !ok {
		return false
	}
	subscribers, ok := r.destinations[destination]
	if !ok {
		subscribers = make(map[int64]string)
		r.destinations[destination] = subscribers
	}
	subscribers[connID] = subscriptionID
	return true
}

// Unsubscribe 移除连接在目的地上的订阅，不存在时无操作
func (r *Registry) Unsubscribe(destination string, connID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(destination, connID)
}

func (r *Registry) unsubscribeLocked(destination string, connID int64) {
	subscribers, ok := r.destinations[destination]
	if !ok {
		return
	}
	delete(subscribers, connID)
	if len(subscribers) == 0 {
		delete(r.destinations, destination)
	}
}

// Disconnect 从所有目的地与连接表中移除连接并关闭出站端，可重复调用
func (r *Registry) Disconnect(connID int64) {
	r.mu.Lock()
	for destination := range r.destinations {
		r.unsubscribeLocked(destination, connID)
	}
	conn, ok := r.removeLocked(connID)
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := conn.close(); err != nil && !IsNetClosedError(err) {
		logger.WarnF("[%d] Error occured while closing connection, details: %v", connID, err)
	}
	logger.DebugF("[%d] Connection disconnected", connID)
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	subscriptions := 0
	for _, subscribers := range r.destinations {
		subscriptions += len(subscribers)
	}
	destinations := len(r.destinations)
	r.mu.RUnlock()

	return Stats{
		Connections:   r.live.Load(),
		Destinations:  destinations,
		Subscriptions: subscriptions,
		FramesSent:    r.framesSent.Load(),
		Broadcasts:    r.broadcasts.Load(),
	}
}
