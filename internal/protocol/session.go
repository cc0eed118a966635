// Package protocol 实现每个连接上的STOMP会话状态机
package protocol

import (
	"errors"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/directory"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/stomp"
)

// State 会话状态
type State int32

const (
	Unauthenticated State = iota
	Authenticated
	Terminated
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "Unauthenticated"
	case Authenticated:
		return "Authenticated"
	case Terminated:
		return "Terminated"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// UserDirectory 会话对用户目录的最小依赖
type UserDirectory interface {
	Login(connID int64, username, password string) directory.LoginStatus
	Logout(connID int64)
	TrackUpload(username, fileName, destination string)
}

// Session 单个连接的协议状态。Process 只会被当前持有该连接的 goroutine 调用，
// state 使用原子变量以便其他 goroutine 读取
type Session struct {
	connID     int64
	registry   *connection.Registry
	directory  UserDirectory
	messageIDs *MessageIDGenerator
	serverName string

	state         atomic.Int32
	username      string
	subscriptions map[string]string // subscription-id -> destination
}

func NewSession(connID int64, broker *Broker) *Session {
	return &Session{
		connID:        connID,
		registry:      broker.Registry,
		directory:     broker.Directory,
		messageIDs:    broker.MessageIDs,
		serverName:    broker.ServerName,
		subscriptions: make(map[string]string),
	}
}

func (s *Session) ConnectionID() int64 {
	return s.connID
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) Terminated() bool {
	return s.State() == Terminated
}

// Process 处理一帧。任何错误都会回复 ERROR 并终止会话
func (s *Session) Process(frame *stomp.Frame) {
	if s.Terminated() {
		return
	}
	logger.DebugF("[%d] Receive %s frame", s.connID, frame.Command)

	if err := s.dispatch(frame); err != nil {
		var frameErr *FrameError
		if !errors.As(err, &frameErr) {
			frameErr = newFrameError(err, err.Error())
		}
		s.reject(frame.Serialize(), receiptOf(frame), frameErr)
	}
}

func (s *Session) dispatch(frame *stomp.Frame) error {
	command := frame.Type()
	if command != stomp.CONNECT && s.State() != Authenticated {
		return newFrameError(ErrNotConnected, "Not connected")
	}

	var err error
	switch command {
	case stomp.CONNECT:
		err = s.handleConnect(frame)
	case stomp.SEND:
		err = s.handleSend(frame)
	case stomp.SUBSCRIBE:
		err = s.handleSubscribe(frame)
	case stomp.UNSUBSCRIBE:
		err = s.handleUnsubscribe(frame)
	case stomp.DISCONNECT:
		// 回执在拆除连接之前发送
		s.sendReceipt(frame)
		s.terminate()
		return nil
	case stomp.CONNECTED, stomp.MESSAGE, stomp.RECEIPT, stomp.ERROR:
		err = newFrameError(ErrUnknownCommand, "Unknown command: "+frame.Command).
			withDetail("%s frames are only sent by the server", frame.Command)
	case stomp.UNKNOWN:
		err = newFrameError(ErrUnknownCommand, "Unknown command: "+frame.Command)
	}
	if err != nil {
		return err
	}
	s.sendReceipt(frame)
	return nil
}

func (s *Session) handleConnect(frame *stomp.Frame) error {
	if s.State() == Authenticated {
		return newFrameError(ErrAlreadyConnected, directory.ClientAlreadyConnected.Message())
	}
	login, hasLogin := frame.RequiredHeader(stomp.HeaderLogin)
	passcode, hasPasscode := frame.RequiredHeader(stomp.HeaderPasscode)
	if !hasLogin || !hasPasscode {
		return newFrameError(ErrMissingHeader, "Missing credentials").
			withDetail("CONNECT requires %s and %s headers", stomp.HeaderLogin, stomp.HeaderPasscode)
	}

	status := s.directory.Login(s.connID, login, passcode)
	if !status.Success() {
		return newFrameError(ErrLoginRejected, status.Message())
	}

	s.username = login
	s.state.Store(int32(Authenticated))
	s.registry.SendTo(s.connID, stomp.NewFrame(stomp.CONNECTED,
		stomp.HeaderVersion, stomp.ProtocolVersion,
		stomp.HeaderServer, s.serverName,
		stomp.HeaderSession, uuid.NewString(),
	))
	return nil
}

func (s *Session) handleSubscribe(frame *stomp.Frame) error {
	destination, hasDestination := frame.RequiredHeader(stomp.HeaderDestination)
	id, hasID := frame.RequiredHeader(stomp.HeaderID)
	if !hasDestination || !hasID {
		return newFrameError(ErrMissingHeader, "Missing destination or id header")
	}

	// 复用的订阅ID迁移到新目的地
	if previous, ok := s.subscriptions[id]; ok && previous != destination {
		s.registry.Unsubscribe(previous, s.connID)
	}
	// 同一目的地只保留一个订阅ID
	for otherID, otherDestination := range s.subscriptions {
		if otherDestination == destination && otherID != id {
			delete(s.subscriptions, otherID)
		}
	}
	s.subscriptions[id] = destination
	s.registry.Subscribe(destination, s.connID, id)
	logger.DebugF("[%d] Subscribed to %s with id %s", s.connID, destination, id)
	return nil
}

func (s *Session) handleUnsubscribe(frame *stomp.Frame) error {
	id, ok := frame.RequiredHeader(stomp.HeaderID)
	if !ok {
		return newFrameError(ErrMissingHeader, "Missing id header")
	}
	destination, ok := s.subscriptions[id]
	if !ok {
		return nil
	}
	delete(s.subscriptions, id)
	s.registry.Unsubscribe(destination, s.connID)
	logger.DebugF("[%d] Unsubscribed from %s (id %s)", s.connID, destination, id)
	return nil
}

func (s *Session) handleSend(frame *stomp.Frame) error {
	destination, ok := frame.RequiredHeader(stomp.HeaderDestination)
	if !ok {
		return newFrameError(ErrMissingHeader, "Missing destination header")
	}
	if fileName, ok := frame.RequiredHeader(stomp.HeaderFileName); ok {
		s.directory.TrackUpload(s.username, fileName, destination)
	}

	message := stomp.NewFrame(stomp.MESSAGE,
		stomp.HeaderDestination, destination,
		stomp.HeaderMessageID, strconv.FormatUint(s.messageIDs.Next(), 10),
	)
	message.Body = frame.Body
	s.registry.Broadcast(destination, message)
	return nil
}

func receiptOf(frame *stomp.Frame) string {
	if frame == nil {
		return ""
	}
	receipt, _ := frame.RequiredHeader(stomp.HeaderReceipt)
	return receipt
}

func (s *Session) sendReceipt(frame *stomp.Frame) {
	if receipt := receiptOf(frame); receipt != "" {
		s.registry.SendTo(s.connID, stomp.NewFrame(stomp.RECEIPT, stomp.HeaderReceiptID, receipt))
	}
}

// reject 回复 ERROR 帧并终止会话，body 引用出错的原始帧
func (s *Session) reject(offending string, receipt string, err *FrameError) {
	logger.WarnF("[%d] Protocol error: %v", s.connID, err)

	reply := stomp.NewFrame(stomp.ERROR, stomp.HeaderMessage, err.Message)
	if receipt != "" {
		reply.SetHeader(stomp.HeaderReceiptID, receipt)
	}
	var body strings.Builder
	body.WriteString("The message:\n-----\n")
	body.WriteString(redactPasscode(offending))
	body.WriteString("\n-----")
	if err.Detail != "" {
		body.WriteString("\n")
		body.WriteString(err.Detail)
	}
	reply.Body = body.String()

	s.registry.SendTo(s.connID, reply)
	s.terminate()
}

func redactPasscode(raw string) string {
	header, body, found := strings.Cut(raw, "\n\n")
	lines := strings.Split(header, "\n")
	for i, line := range lines {
		if key, _, ok := strings.Cut(line, ":"); ok && strings.TrimSpace(key) == stomp.HeaderPasscode {
			lines[i] = stomp.HeaderPasscode + ":" + strings.Repeat("*", 4)
		}
	}
	redacted := strings.Join(lines, "\n")
	if found {
		redacted += "\n\n" + body
	}
	return redacted
}

// terminate 将会话置为终止状态并登出用户，可重复调用
func (s *Session) terminate() {
	previous := State(s.state.Swap(int32(Terminated)))
	if previous == Terminated {
		return
	}
	if previous == Authenticated {
		s.directory.Logout(s.connID)
	}
	for id, destination := range s.subscriptions {
		s.registry.Unsubscribe(destination, s.connID)
		delete(s.subscriptions, id)
	}
	logger.DebugF("[%d] Session terminated (was %s)", s.connID, previous)
}
