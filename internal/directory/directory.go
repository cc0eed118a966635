// Package directory 提供用户目录：凭据校验、在线状态、登录历史与文件上传记录
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/config"
)

var ErrUnknownBackend = errors.New("unknown directory backend")

// Directory 用户目录。Login/Logout/TrackUpload 在会话的处理路径上被调用，
// 实现必须是并发安全的。
type Directory interface {
	Login(connID int64, username, password string) LoginStatus
	Logout(connID int64)
	TrackUpload(username, fileName, destination string)
	Report(ctx context.Context) (*Report, error)
	Close(ctx context.Context) error
}

type UserRecord struct {
	Username     string    `bson:"username"`
	RegisteredAt time.Time `bson:"registered_at"`
}

type LoginRecord struct {
	Username     string     `bson:"username"`
	ConnectionID int64      `bson:"connection_id"`
	LoginAt      time.Time  `bson:"login_at"`
	LogoutAt     *time.Time `bson:"logout_at,omitempty"`
}

type UploadRecord struct {
	Username    string    `bson:"username"`
	FileName    string    `bson:"file_name"`
	Destination string    `bson:"destination"`
	UploadedAt  time.Time `bson:"uploaded_at"`
}

// Report 目录的全量快照，按时间排序
type Report struct {
	Users   []UserRecord
	Logins  []LoginRecord
	Uploads []UploadRecord
	Online  int
}

func (r *Report) sort() {
	sort.SliceStable(r.Users, func(i, j int) bool { return r.Users[i].RegisteredAt.Before(r.Users[j].RegisteredAt) })
	sort.SliceStable(r.Logins, func(i, j int) bool { return r.Logins[i].LoginAt.Before(r.Logins[j].LoginAt) })
	sort.SliceStable(r.Uploads, func(i, j int) bool { return r.Uploads[i].UploadedAt.Before(r.Uploads[j].UploadedAt) })
}

// Factory 根据配置构造一个目录后端
type Factory func(ctx context.Context, cfg config.Config) (Directory, error)

var (
	providersMu sync.RWMutex
	providers   = make(map[string]Factory)
)

// Register 注册目录后端，重复注册或空工厂会 panic
func Register(name string, factory Factory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	if factory == nil {
		panic("directory: Register factory is nil")
	}
	if _, dup := providers[name]; dup {
		panic("directory: Register called twice for backend " + name)
	}
	providers[name] = factory
}

// unregister 移除已注册的后端
func unregister(name string) {
	providersMu.Lock()
	defer providersMu.Unlock()
	delete(providers, name)
}

// New 按 cfg.Directory.Backend 创建目录
func New(ctx context.Context, cfg config.Config) (Directory, error) {
	providersMu.RLock()
	factory, ok := providers[cfg.Directory.Backend]
	providersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Directory.Backend)
	}
	return factory(ctx, cfg)
}
