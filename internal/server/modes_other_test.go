//go:build !linux

package server

import "testing"

func testModes() []Mode {
	return []Mode{ModeThreadPerConnection}
}

func TestReactorUnsupported(t *testing.T) {
	if _, err := New(ModeReactor, nil, Options{}); err != ErrReactorUnsupported {
		t.Fatalf("New(reactor) error = %v, want ErrReactorUnsupported", err)
	}
}
