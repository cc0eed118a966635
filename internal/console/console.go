// Package console 提供运维命令行：打印目录报告与注册中心统计，触发关闭
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/directory"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
)

const timeLayout = "2006-01-02 15:04:05"

type Reporter interface {
	Report(ctx context.Context) (*directory.Report, error)
}

type Console struct {
	in       io.Reader
	out      io.Writer
	reporter Reporter
	registry *connection.Registry
	shutdown func()
	heading  *color.Color
}

func New(in io.Reader, out io.Writer, reporter Reporter, registry *connection.Registry, shutdown func()) *Console {
	return &Console{
		in:       in,
		out:      out,
		reporter: reporter,
		registry: registry,
		shutdown: shutdown,
		heading:  color.New(color.FgCyan, color.Bold),
	}
}

// Run 逐行读取命令直到输入结束、收到 quit 或 ctx 取消
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := c.Execute(ctx, line); quit {
				return nil
			}
		}
	}
}

// Execute 执行一条命令，返回是否应当退出
func (c *Console) Execute(ctx context.Context, line string) bool {
	switch command := strings.ToLower(strings.TrimSpace(line)); command {
	case "":
	case "report":
		if err := c.printReport(ctx); err != nil {
			logger.ErrorF("Fail to build report, details: %v", err)
			_, _ = fmt.Fprintf(c.out, "report failed: %v\n", err)
		}
	case "stats":
		c.printStats()
	case "quit", "exit":
		_, _ = fmt.Fprintln(c.out, "Shutting down...")
		if c.shutdown != nil {
			c.shutdown()
		}
		return true
	case "help":
		c.printHelp()
	default:
		_, _ = fmt.Fprintf(c.out, "unknown command %q, type help for a list of commands\n", command)
	}
	return false
}

func (c *Console) printHelp() {
	_, _ = c.heading.Fprintln(c.out, "Commands")
	_, _ = fmt.Fprintln(c.out, "  report  users, login history, file uploads and broker statistics")
	_, _ = fmt.Fprintln(c.out, "  stats   broker statistics")
	_, _ = fmt.Fprintln(c.out, "  quit    shut the broker down")
}

func (c *Console) printStats() {
	stats := c.registry.Stats()
	_, _ = c.heading.Fprintln(c.out, "Broker")
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "  connections\t%d\n", stats.Connections)
	_, _ = fmt.Fprintf(w, "  destinations\t%d\n", stats.Destinations)
	_, _ = fmt.Fprintf(w, "  subscriptions\t%d\n", stats.Subscriptions)
	_, _ = fmt.Fprintf(w, "  frames sent\t%d\n", stats.FramesSent)
	_, _ = fmt.Fprintf(w, "  broadcasts\t%d\n", stats.Broadcasts)
	_ = w.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func (c *Console) printReport(ctx context.Context) error {
	report, err := c.reporter.Report(ctx)
	if err != nil {
		return err
	}

	_, _ = c.heading.Fprintf(c.out, "Users (%d, %d online)\n", len(report.Users), report.Online)
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, user := range report.Users {
		_, _ = fmt.Fprintf(w, "  %s\t%s\n", user.Username, formatTime(&user.RegisteredAt))
	}
	_ = w.Flush()

	_, _ = c.heading.Fprintf(c.out, "Login history (%d)\n", len(report.Logins))
	w = tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, login := range report.Logins {
		_, _ = fmt.Fprintf(w, "  %s\t#%d\t%s\t%s\n", login.Username, login.ConnectionID,
			formatTime(&login.LoginAt), formatTime(login.LogoutAt))
	}
	_ = w.Flush()

	_, _ = c.heading.Fprintf(c.out, "File uploads (%d)\n", len(report.Uploads))
	w = tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, upload := range report.Uploads {
		_, _ = fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", upload.Username, upload.FileName,
			upload.Destination, formatTime(&upload.UploadedAt))
	}
	_ = w.Flush()

	c.printStats()
	return nil
}
