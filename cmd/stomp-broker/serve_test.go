package main

import (
	"testing"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/config"
)

func TestApplyOverrides(t *testing.T) {
	cases := []struct {
		name      string
		port      int
		mode      string
		args      []string
		wantPort  int
		wantMode  string
		wantError bool
	}{
		{name: "config only", wantPort: 7777, wantMode: "tpc"},
		{name: "flags", port: 9000, mode: "reactor", wantPort: 9000, wantMode: "reactor"},
		{name: "positional wins", port: 9000, args: []string{"7000", "reactor"}, wantPort: 7000, wantMode: "reactor"},
		{name: "invalid port", args: []string{"http"}, wantError: true},
		{name: "port out of range", args: []string{"70000"}, wantError: true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			servePort, serveMode, serveWorkers = c.port, c.mode, 0
			defer func() { servePort, serveMode = 0, "" }()

			cfg := config.DefaultConfig()
			err := applyOverrides(&cfg, c.args)
			if c.wantError {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if cfg.AppPort != c.wantPort || cfg.ServerMode != c.wantMode {
				t.Fatalf("got port %d mode %s, want port %d mode %s", cfg.AppPort, cfg.ServerMode, c.wantPort, c.wantMode)
			}
		})
	}
}
