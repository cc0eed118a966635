package stomp

import (
	"errors"
	"maps"
	"slices"
	"strings"
)

var ErrEmptyCommand = errors.New("stomp: frame has an empty command")

// Frame 定义了完整的STOMP帧结构
type Frame struct {
	Command string            // 命令行
	Headers map[string]string // 帧头，键在帧内唯一
	Body    string            // 帧体，可以为空
}

// NewFrame 创建帧，headers 以 key, value 成对传入
func NewFrame(command CommandType, headers ...string) *Frame {
	frame := &Frame{
		Command: command.String(),
		Headers: make(map[string]string, len(headers)/2),
	}
	for i := 0; i+1 < len(headers); i += 2 {
		frame.Headers[headers[i]] = headers[i+1]
	}
	return frame
}

// Type 返回帧命令对应的CommandType
func (f *Frame) Type() CommandType {
	return LookupCommand(f.Command)
}

// Header 读取帧头
func (f *Frame) Header(key string) (string, bool) {
	value, ok := f.Headers[key]
	return value, ok
}

// RequiredHeader 读取非空帧头
func (f *Frame) RequiredHeader(key string) (string, bool) {
	value, ok := f.Headers[key]
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

func (f *Frame) SetHeader(key, value string) *Frame {
	if f.Headers == nil {
		f.Headers = make(map[string]string)
	}
	f.Headers[key] = value
	return f
}

// Clone 深拷贝帧，广播时每个接收者拿到独立的帧头
func (f *Frame) Clone() *Frame {
	return &Frame{
		Command: f.Command,
		Headers: maps.Clone(f.Headers),
		Body:    f.Body,
	}
}

// Parse 将一帧原始文本解析为Frame
//
// 第一行为命令，其后直到第一个空行为帧头（按第一个冒号拆分，键值去除首尾空白，
// 没有冒号的行被忽略），剩余各行以换行符重新连接作为帧体。命令之前的空行
// （心跳）被跳过。
func Parse(raw string) (*Frame, error) {
	lines := strings.Split(raw, "\n")

	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i == len(lines) {
		return nil, ErrEmptyCommand
	}

	frame := &Frame{
		Command: strings.TrimSpace(lines[i]),
		Headers: make(map[string]string),
	}
	i++

	for ; i < len(lines) && strings.TrimSpace(lines[i]) != ""; i++ {
		key, value, found := strings.Cut(lines[i], ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		// 重复的帧头只保留第一次出现的值
		if _, exists := frame.Headers[key]; !exists {
			frame.Headers[key] = strings.TrimSpace(value)
		}
	}

	// 跳过帧头与帧体之间的空行
	i++
	if i < len(lines) {
		frame.Body = strings.Join(lines[i:], "\n")
	}

	return frame, nil
}

// Serialize 将帧转换为线上文本格式，不包含结束符
func (f *Frame) Serialize() string {
	var sb strings.Builder
	sb.Grow(len(f.Command) + len(f.Body) + 32*len(f.Headers))

	sb.WriteString(f.Command)
	sb.WriteByte('\n')
	for _, key := range slices.Sorted(maps.Keys(f.Headers)) {
		sb.WriteString(key)
		sb.WriteByte(':')
		sb.WriteString(f.Headers[key])
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	sb.WriteString(f.Body)
	return sb.String()
}

func (f *Frame) String() string {
	return f.Serialize()
}
