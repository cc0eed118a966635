//go:build linux

package server

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

const connectionEvents = uint32(unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLONESHOT)

// poller 封装 epoll 实例与用于唤醒所有 worker 的 eventfd
type poller struct {
	epfd   int
	wakeFd int
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	// 水平触发且从不读取，一旦写入所有 worker 都会被唤醒
	err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)})
	if err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll_ctl wake fd: %w", err)
	}
	return &poller{epfd: epfd, wakeFd: wakeFd}, nil
}

func (p *poller) add(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: connectionEvents, Fd: int32(fd)})
}

// rearm 重新启用 ONESHOT 事件
func (p *poller) rearm(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: connectionEvents, Fd: int32(fd)})
}

func (p *poller) remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		return nil
	}
	return err
}

// wait 阻塞直到有事件就绪，被信号打断时重试
func (p *poller) wait(events []unix.EpollEvent) (int, error) {
	for {
		n, err := unix.EpollWait(p.epfd, events, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return n, err
	}
}

func (p *poller) wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakeFd, buf[:])
	if errors.Is(err, unix.EAGAIN) {
		return nil
	}
	return err
}

func (p *poller) isWake(fd int) bool {
	return fd == p.wakeFd
}

func (p *poller) close() error {
	return errors.Join(unix.Close(p.wakeFd), unix.Close(p.epfd))
}
