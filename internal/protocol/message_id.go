package protocol

import "sync"

// MessageIDGenerator 分配进程内单调递增的 message-id，从1开始，永不复用
type MessageIDGenerator struct {
	mu     sync.Mutex
	lastID uint64
}

func NewMessageIDGenerator() *MessageIDGenerator {
	return &MessageIDGenerator{}
}

// Next 获取下一个ID
func (g *MessageIDGenerator) Next() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastID++
	return g.lastID
}

// last 返回最近一次分配的ID，未分配过时为0
func (g *MessageIDGenerator) last() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastID
}
