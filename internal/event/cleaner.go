package event

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
)

type Callable interface {
	Invoke(ctx context.Context) error
}

// CallableFunc 将普通函数适配为Callable
type CallableFunc func(ctx context.Context) error

func (f CallableFunc) Invoke(ctx context.Context) error {
	return f(ctx)
}

type Cleaner struct {
	cleaners       []Callable
	mu             sync.Mutex
	initOnce       sync.Once
	cleaning       bool
	loggerShutdown Callable
	cancel         context.CancelFunc
	timeout        time.Duration
	exit           func(code int)
	done           chan struct{}
}

var cleanerInstance = &Cleaner{
	timeout: 10 * time.Second,
	exit:    syscall.Exit,
	done:    make(chan struct{}),
}

func NewCleaner() *Cleaner {
	return cleanerInstance
}

func (c *Cleaner) Add(callable Callable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleaning {
		logger.Debug("Cleaner is already shutting down, ignoring new cleaner")
		return
	}
	c.cleaners = append(c.cleaners, callable)
}

// Shutdown 主动触发清理流程（控制台 quit 命令）
func (c *Cleaner) Shutdown() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done 在清理流程结束后关闭
func (c *Cleaner) Done() <-chan struct{} {
	return c.done
}

func (c *Cleaner) Init(loggerShutdown Callable) {
	c.initOnce.Do(func() {
		signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		ctx, cancel := context.WithCancel(signalCtx)

		c.mu.Lock()
		c.loggerShutdown = loggerShutdown
		c.cancel = cancel
		c.mu.Unlock()

		go func() {
			<-ctx.Done()
			stop()
			logger.Info("Received shutdown request, shutting down")
			c.run()
			close(c.done)
			c.exit(0)
		}()
	})
}

func (c *Cleaner) run() {
	c.mu.Lock()
	c.cleaning = true // 标记为清理中，阻止后续Add操作
	cleanersCopy := make([]Callable, len(c.cleaners))
	copy(cleanersCopy, c.cleaners)
	c.mu.Unlock()

	logger.DebugF("Starting cleanup of %d registered functions", len(cleanersCopy))

	var errs []error
	for i, callable := range cleanersCopy {
		func(idx int, callable Callable) {
			logger.DebugF("Invoking cleaner #%d (%T)", idx+1, callable)
			timeoutCtx, cancelFunc := context.WithTimeout(context.Background(), c.timeout)
			defer cancelFunc()
			if err := callable.Invoke(timeoutCtx); err != nil {
				logger.ErrorF("Cleaner #%d (%T) failed: %v", idx+1, callable, err)
				errs = append(errs, err)
			}
		}(i, callable)
	}

	if len(errs) > 0 {
		logger.ErrorF("%d errors occurred during cleanup:", len(errs))
		for i, err := range errs {
			logger.ErrorF("Error %d: %v", i+1, err)
		}
	} else {
		logger.Debug("All cleaners executed successfully")
	}
	logger.Info("Cleanup finished, server offline")

	if c.loggerShutdown == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.loggerShutdown.Invoke(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "LOGGER SHUTDOWN ERROR: %v\n", err)
	}
}
