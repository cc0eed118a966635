package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	c "github.com/life-stream-dev/life-stream-go-stomp-broker/internal/config"
)

const (
	LevelFatal slog.Level = 12
)

// asyncCore 由同一个Logger派生出的所有Handler共享
type asyncCore struct {
	ch          chan []byte
	writer      io.Writer
	currentDay  int      // 当前日志日期（day of year）
	currentFile *os.File // 当前日志文件
	basePath    string   // 日志文件基础路径，为空时只输出到标准输出
	retention   time.Duration
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

type AsyncHandler struct {
	core     *asyncCore
	attrs    []slog.Attr
	group    string
	logLevel slog.Level
}

func NewAsyncHandler(basePath string, logLevel slog.Level) *AsyncHandler {
	core := &asyncCore{
		ch:        make(chan []byte, 1024),
		writer:    os.Stdout,
		basePath:  basePath,
		retention: 30 * 24 * time.Hour,
	}
	if err := core.rotateIfNeeded(); err != nil {
		fmt.Fprintf(os.Stderr, "LOGGER ROTATE ERROR: %v\n", err)
	}
	core.cleanOldLogs()
	core.wg.Add(1)
	go core.startWorker()
	return &AsyncHandler{core: core, logLevel: logLevel}
}

// 删除超过保留期限的日志
func (core *asyncCore) cleanOldLogs() {
	if core.basePath == "" {
		return
	}
	files, _ := filepath.Glob(filepath.Join(core.basePath, "*.log"))
	now := time.Now()

	for _, f := range files {
		fi, err := os.Stat(f)
		if err != nil {
			continue
		}
		if now.Sub(fi.ModTime()) > core.retention {
			_ = os.Remove(f)
		}
	}
}

// 初始化或轮转日志文件
func (core *asyncCore) rotateIfNeeded() error {
	if core.basePath == "" {
		return nil
	}

	currentDay := time.Now().YearDay()
	if currentDay == core.currentDay && core.currentFile != nil {
		return nil
	}

	if core.currentFile != nil {
		if err := core.currentFile.Close(); err != nil {
			return fmt.Errorf("unable to close log file: %w", err)
		}
		core.currentFile = nil
		core.writer = os.Stdout
	}

	logPath := core.getLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return fmt.Errorf("unable to create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("unable to open log file: %w", err)
	}

	core.currentFile = f
	core.currentDay = currentDay
	core.writer = io.MultiWriter(os.Stdout, core.currentFile)
	return nil
}

func (core *asyncCore) getLogPath() string {
	return filepath.Join(core.basePath, time.Now().Format("2006-01-02")+".log")
}

func (core *asyncCore) startWorker() {
	defer core.wg.Done()
	for data := range core.ch {
		if err := core.rotateIfNeeded(); err != nil {
			fmt.Fprintf(os.Stderr, "LOGGER ROTATE ERROR: %v\n", err)
		}
		_, _ = core.writer.Write(data)
	}
}

func (h *AsyncHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.logLevel
}

func (h *AsyncHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String()

	switch r.Level {
	case slog.LevelDebug:
		level = color.MagentaString(level)
	case slog.LevelInfo:
		level = color.BlueString(level)
	case slog.LevelWarn:
		level = color.YellowString(level)
	case slog.LevelError:
		level = color.RedString(level)
	case LevelFatal:
		level = color.HiRedString("FATAL")
	}

	var line strings.Builder
	// 基础格式：时间 | 级别 | 消息
	fmt.Fprintf(&line, "%s | %-5s | %s",
		color.GreenString(r.Time.Format("2006-01-02T15:04:05")),
		level,
		color.CyanString(r.Message),
	)

	for _, attr := range h.attrs {
		line.WriteString(color.CyanString(" %s=%v", h.qualify(attr.Key), attr.Value))
	}

	r.Attrs(func(attr slog.Attr) bool {
		line.WriteString(color.CyanString(" %s=%v", h.qualify(attr.Key), attr.Value))
		return true
	})

	line.WriteByte('\n')

	h.Write([]byte(line.String()))
	return nil
}

func (h *AsyncHandler) qualify(key string) string {
	if h.group == "" {
		return key
	}
	return h.group + "." + key
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	newAttrs = append(newAttrs, h.attrs...)
	newAttrs = append(newAttrs, attrs...)

	return &AsyncHandler{
		core:     h.core,
		attrs:    newAttrs,
		group:    h.group,
		logLevel: h.logLevel,
	}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{
		core:     h.core,
		attrs:    h.attrs,
		group:    h.qualify(name),
		logLevel: h.logLevel,
	}
}

func (h *AsyncHandler) Write(p []byte) {
	// 拷贝数据避免竞态
	pb := make([]byte, len(p))
	copy(pb, p)
	h.core.ch <- pb
}

func (h *AsyncHandler) Close() error {
	h.core.closeOnce.Do(func() {
		close(h.core.ch)
		h.core.wg.Wait()
		if h.core.currentFile != nil {
			_ = h.core.currentFile.Sync()
			_ = h.core.currentFile.Close()
		}
	})
	return nil
}

type ShutdownCallback struct {
	handler *AsyncHandler
}

func (lc *ShutdownCallback) Invoke(ctx context.Context) error {
	return lc.handler.Close()
}

func Init() *ShutdownCallback {
	var handler *AsyncHandler
	config, _ := c.GetConfig()
	if config.DebugMode {
		handler = NewAsyncHandler(config.LogPath, slog.LevelDebug)
	} else {
		handler = NewAsyncHandler(config.LogPath, slog.LevelInfo)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Debug("Logger initialized")
	return &ShutdownCallback{handler: handler}
}

func Debug(msg string, v ...interface{}) {
	slog.Debug(msg, v...)
}

func DebugF(msg string, v ...interface{}) {
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	slog.Debug(fmt.Sprintf(msg, v...))
}

func Info(msg string, v ...interface{}) {
	slog.Info(msg, v...)
}

func InfoF(msg string, v ...interface{}) {
	slog.Info(fmt.Sprintf(msg, v...))
}

func Warn(msg string, v ...interface{}) {
	slog.Warn(msg, v...)
}

func WarnF(msg string, v ...interface{}) {
	slog.Warn(fmt.Sprintf(msg, v...))
}

func Error(msg string, v ...interface{}) {
	slog.Error(msg, v...)
}

func ErrorF(msg string, v ...interface{}) {
	slog.Error(fmt.Sprintf(msg, v...))
}

func Fatal(msg string, v ...interface{}) {
	slog.Log(context.Background(), LevelFatal, msg, v...)
}

func FatalF(msg string, v ...interface{}) {
	slog.Log(context.Background(), LevelFatal, fmt.Sprintf(msg, v...))
}
