package directory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/config"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
)

const MemoryBackend = "memory"

func init() {
	Register(MemoryBackend, func(_ context.Context, cfg config.Config) (Directory, error) {
		return NewMemoryDirectory(cfg.Directory.BcryptCost), nil
	})
}

type memoryUser struct {
	UserRecord
	passwordHash []byte
}

// MemoryDirectory 进程内的用户目录，进程退出后数据丢失
type MemoryDirectory struct {
	mu         sync.Mutex
	cost       int
	users      map[string]*memoryUser
	sessions   *sessionTable
	logins     []LoginRecord
	loginIndex map[int64]int
	uploads    []UploadRecord
	now        func() time.Time

	hash    func(password []byte, cost int) ([]byte, error)
	compare func(hash, password []byte) error
}

func NewMemoryDirectory(cost int) *MemoryDirectory {
	return &MemoryDirectory{
		cost:       cost,
		users:      make(map[string]*memoryUser),
		sessions:   newSessionTable(),
		loginIndex: make(map[int64]int),
		now:        time.Now,
		hash:       bcrypt.GenerateFromPassword,
		compare:    bcrypt.CompareHashAndPassword,
	}
}

// Login 先在锁内占位会话，bcrypt 计算在锁外进行，最后提交或撤销占位
func (d *MemoryDirectory) Login(connID int64, username, password string) LoginStatus {
	d.mu.Lock()
	if d.sessions.connected(connID) {
		d.mu.Unlock()
		return ClientAlreadyConnected
	}
	if d.sessions.online(username) {
		d.mu.Unlock()
		return AlreadyLoggedIn
	}
	d.sessions.add(connID, username)
	user, exists := d.users[username]
	d.mu.Unlock()

	status := LoggedIn
	var hash []byte
	if exists {
		if d.compare(user.passwordHash, []byte(password)) != nil {
			status = WrongPassword
		}
	} else {
		var err error
		if hash, err = d.hash([]byte(password), d.cost); err != nil {
			logger.ErrorF("[%d] Fail to hash password for %s, details: %v", connID, username, err)
			status = LoginFailed
		} else {
			status = AddedNewUser
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !status.Success() {
		d.sessions.remove(connID)
		return status
	}
	if status == AddedNewUser {
		d.users[username] = &memoryUser{
			UserRecord:   UserRecord{Username: username, RegisteredAt: d.now()},
			passwordHash: hash,
		}
	}
	d.loginIndex[connID] = len(d.logins)
	d.logins = append(d.logins, LoginRecord{Username: username, ConnectionID: connID, LoginAt: d.now()})
	logger.InfoF("[%d] User %s logged in (%s)", connID, username, status)
	return status
}

func (d *MemoryDirectory) Logout(connID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	username, ok := d.sessions.remove(connID)
	if !ok {
		return
	}
	if index, ok := d.loginIndex[connID]; ok {
		logoutAt := d.now()
		d.logins[index].LogoutAt = &logoutAt
		delete(d.loginIndex, connID)
	}
	logger.InfoF("[%d] User %s logged out", connID, username)
}

func (d *MemoryDirectory) TrackUpload(username, fileName, destination string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uploads = append(d.uploads, UploadRecord{
		Username:    username,
		FileName:    fileName,
		Destination: destination,
		UploadedAt:  d.now(),
	})
}

func (d *MemoryDirectory) Report(_ context.Context) (*Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	report := &Report{
		Users:   make([]UserRecord, 0, len(d.users)),
		Logins:  make([]LoginRecord, len(d.logins)),
		Uploads: make([]UploadRecord, len(d.uploads)),
		Online:  d.sessions.size(),
	}
	for _, user := range d.users {
		report.Users = append(report.Users, user.UserRecord)
	}
	copy(report.Logins, d.logins)
	copy(report.Uploads, d.uploads)
	report.sort()
	return report, nil
}

func (d *MemoryDirectory) Close(_ context.Context) error {
	return nil
}
