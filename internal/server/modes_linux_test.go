//go:build linux

package server

func testModes() []Mode {
	return []Mode{ModeThreadPerConnection, ModeReactor}
}
