package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/config"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/console"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/directory"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/event"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/protocol"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/server"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/utils"
)

var (
	servePort    int
	serveMode    string
	serveWorkers int
	noConsole    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve [port] [tpc|reactor]",
	Short: "Run the broker",
	Args:  cobra.MaximumNArgs(2),
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "TCP port, overrides app_port")
	serveCmd.Flags().StringVarP(&serveMode, "mode", "m", "", "Execution model: tpc or reactor, overrides server_mode")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "Reactor worker count, overrides reactor_workers")
	serveCmd.Flags().BoolVar(&noConsole, "no-console", false, "Do not read operator commands from stdin")
	rootCmd.AddCommand(serveCmd)
}

// applyOverrides 按 位置参数 > 命令行参数 > 配置文件 的优先级合并
func applyOverrides(cfg *config.Config, args []string) error {
	if servePort != 0 {
		cfg.AppPort = servePort
	}
	if serveMode != "" {
		cfg.ServerMode = serveMode
	}
	if serveWorkers != 0 {
		cfg.ReactorWorkers = serveWorkers
	}
	if len(args) > 0 {
		port, err := strconv.Atoi(args[0])
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid port %q", args[0])
		}
		cfg.AppPort = port
	}
	if len(args) > 1 {
		cfg.ServerMode = args[1]
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.ReadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error occured while reading config: %w", err)
	}
	if err = applyOverrides(&cfg, args); err != nil {
		return err
	}
	mode, err := server.ParseMode(cfg.ServerMode)
	if err != nil {
		return err
	}
	config.SetConfig(cfg)

	loggerCallback := logger.Init()
	logger.Debug("Application initializing...")
	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)

	ctx := context.Background()
	dir, err := directory.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("error occured while initializing user directory: %w", err)
	}
	logger.InfoF("User directory backend: %s", cfg.Directory.Backend)

	registry := connection.NewRegistry()
	broker := protocol.NewBroker(registry, dir, cfg.AppName)
	connectTimeout := utils.ParseStringTimeOr(cfg.ConnectTimeout, 0)

	stompServer, err := server.New(mode, broker, server.Options{
		Address:        fmt.Sprintf(":%d", cfg.AppPort),
		Workers:        cfg.ReactorWorkers,
		MaxConnections: cfg.MaxConnections,
		ConnectTimeout: connectTimeout,
		OutboundQueue:  cfg.OutboundQueue,
	})
	if err != nil {
		return err
	}
	servers := []server.Server{stompServer}
	if cfg.WebSocket.Enable {
		servers = append(servers, server.NewWebSocketServer(broker, cfg.WebSocket.Address, cfg.WebSocket.Path, connectTimeout))
	}

	for _, s := range servers {
		if err = s.Listen(); err != nil {
			return err
		}
		cleaner.Add(event.CallableFunc(func(context.Context) error {
			return s.Close()
		}))
	}
	// 目录在服务器之后关闭
	cleaner.Add(event.CallableFunc(dir.Close))

	if !noConsole {
		go func() {
			c := console.New(os.Stdin, os.Stdout, dir, registry, cleaner.Shutdown)
			if err := c.Run(ctx); err != nil {
				logger.WarnF("Console stopped, details: %v", err)
			}
		}()
	}

	var g errgroup.Group
	for _, s := range servers {
		g.Go(func() error {
			if err := s.Serve(ctx); err != nil && !errors.Is(err, server.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		logger.ErrorF("Server stopped unexpectedly, details: %v", err)
		cleaner.Shutdown()
	}
	<-cleaner.Done()
	return err
}
