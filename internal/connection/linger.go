package connection

import (
	"io"
	"net"
	"time"
)

const (
	// DrainTimeout 半关闭后丢弃对端剩余数据的最长时间
	DrainTimeout  = time.Second
	maxDrainBytes = 1 << 20
)

// GracefulClose 先关闭写方向并读尽对端已发送的数据再关闭连接，
// 避免接收缓冲区中残留数据导致内核发送 RST 而丢失最后的 ERROR 帧
func GracefulClose(conn net.Conn, drain time.Duration) error {
	halfCloser, ok := conn.(interface{ CloseWrite() error })
	if !ok || drain <= 0 {
		return conn.Close()
	}
	if err := halfCloser.CloseWrite(); err != nil {
		return conn.Close()
	}
	_ = conn.SetReadDeadline(time.Now().Add(drain))
	_, _ = io.Copy(io.Discard, io.LimitReader(conn, maxDrainBytes))
	return conn.Close()
}
