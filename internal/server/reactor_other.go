//go:build !linux

package server

import "github.com/life-stream-dev/life-stream-go-stomp-broker/internal/protocol"

func newReactorServer(*protocol.Broker, Options) (Server, error) {
	return nil, ErrReactorUnsupported
}
