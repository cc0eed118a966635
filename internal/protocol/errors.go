package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrMissingHeader    = errors.New("missing required header")
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrLoginRejected    = errors.New("login rejected")
	ErrUnknownCommand   = errors.New("unknown command")
)

// FrameError 导致会话终止的协议错误，Message 写入 ERROR 帧的 message 头
type FrameError struct {
	Message string
	Detail  string
	Err     error
}

func newFrameError(err error, message string) *FrameError {
	return &FrameError{Message: message, Err: err}
}

func (e *FrameError) withDetail(format string, v ...interface{}) *FrameError {
	e.Detail = fmt.Sprintf(format, v...)
	return e
}

func (e *FrameError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Message, e.Detail, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}
