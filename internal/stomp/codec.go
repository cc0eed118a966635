package stomp

import (
	"bytes"
	"strings"
)

// Terminator 是帧结束符
const Terminator byte = 0

const defaultBufferSize = 1 << 10

// Decoder 将字节流增量地切分为帧文本，每个连接独占一个实例
type Decoder struct {
	buf []byte
	len int
}

func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, defaultBufferSize)}
}

// DecodeByte 输入一个字节，遇到结束符时返回完整的帧文本
func (d *Decoder) DecodeByte(b byte) (string, bool) {
	if b == Terminator {
		return d.pop(), true
	}
	d.push(b)
	return "", false
}

// Decode 输入一段字节，返回其中所有已完成的帧文本，未结束的部分留在缓冲区中
func (d *Decoder) Decode(p []byte) []string {
	var frames []string
	for len(p) > 0 {
		idx := bytes.IndexByte(p, Terminator)
		if idx < 0 {
			d.push(p...)
			break
		}
		d.push(p[:idx]...)
		frames = append(frames, d.pop())
		p = p[idx+1:]
	}
	return frames
}

// buffered 返回尚未构成完整帧的字节数
func (d *Decoder) buffered() int {
	return d.len
}

func (d *Decoder) push(p ...byte) {
	if need := d.len + len(p); need > len(d.buf) {
		size := max(len(d.buf), defaultBufferSize)
		for size < need {
			size *= 2
		}
		grown := make([]byte, size)
		copy(grown, d.buf[:d.len])
		d.buf = grown
	}
	d.len += copy(d.buf[d.len:], p)
}

func (d *Decoder) pop() string {
	result := strings.ToValidUTF8(string(d.buf[:d.len]), "�")
	d.len = 0
	return result
}

// Encode 在帧文本末尾追加结束符
func Encode(raw string) []byte {
	data := make([]byte, 0, len(raw)+1)
	data = append(data, raw...)
	return append(data, Terminator)
}

// EncodeFrame 序列化并编码一帧
func EncodeFrame(f *Frame) []byte {
	return Encode(f.Serialize())
}
