package directory

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func newTestDirectory() *MemoryDirectory {
	d := NewMemoryDirectory(bcrypt.MinCost)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick time.Duration
	d.now = func() time.Time {
		tick += time.Second
		return base.Add(tick)
	}
	return d
}

func TestMemoryDirectoryLogin(t *testing.T) {
	d := newTestDirectory()

	steps := []struct {
		name     string
		connID   int64
		user     string
		password string
		want     LoginStatus
	}{
		{"register on first login", 1, "alice", "secret", AddedNewUser},
		{"same connection again", 1, "bob", "pw", ClientAlreadyConnected},
		{"user online elsewhere", 2, "alice", "secret", AlreadyLoggedIn},
		{"second user", 2, "bob", "pw", AddedNewUser},
	}
	for _, step := range steps {
		if got := d.Login(step.connID, step.user, step.password); got != step.want {
			t.Fatalf("%s: Login() = %s, want %s", step.name, got, step.want)
		}
	}

	d.Logout(1)
	if got := d.Login(3, "alice", "wrong"); got != WrongPassword {
		t.Fatalf("Login() with wrong password = %s, want WrongPassword", got)
	}
	if got := d.Login(3, "alice", "secret"); got != LoggedIn {
		t.Fatalf("Login() after logout = %s, want LoggedIn", got)
	}
}

func TestMemoryDirectoryLogoutIsIdempotent(t *testing.T) {
	d := newTestDirectory()
	d.Logout(42)
	d.Login(1, "alice", "secret")
	d.Logout(1)
	d.Logout(1)

	report, err := d.Report(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Online != 0 {
		t.Fatalf("Online = %d, want 0", report.Online)
	}
	if len(report.Logins) != 1 || report.Logins[0].LogoutAt == nil {
		t.Fatalf("login history not closed: %+v", report.Logins)
	}
}

func TestMemoryDirectoryReport(t *testing.T) {
	d := newTestDirectory()
	d.Login(1, "alice", "a")
	d.Login(2, "bob", "b")
	d.TrackUpload("alice", "movie.json", "/drama")
	d.TrackUpload("bob", "series.json", "/comedy")
	d.Logout(2)

	report, err := d.Report(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Users) != 2 || report.Users[0].Username != "alice" || report.Users[1].Username != "bob" {
		t.Fatalf("unexpected users: %+v", report.Users)
	}
	if report.Online != 1 {
		t.Fatalf("Online = %d, want 1", report.Online)
	}
	if report.Logins[0].LogoutAt != nil || report.Logins[1].LogoutAt == nil {
		t.Fatalf("unexpected login history: %+v", report.Logins)
	}
	if len(report.Uploads) != 2 || report.Uploads[0].FileName != "movie.json" || report.Uploads[1].Destination != "/comedy" {
		t.Fatalf("unexpected uploads: %+v", report.Uploads)
	}
}

func TestMemoryDirectoryConcurrentLogin(t *testing.T) {
	d := NewMemoryDirectory(bcrypt.MinCost)
	d.Login(100, "shared", "pw")
	d.Logout(100)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := int64(1); i <= 16; i++ {
		wg.Add(1)
		go func(connID int64) {
			defer wg.Done()
			if d.Login(connID, "shared", "pw").Success() {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("%d connections logged in as the same user, want 1", winners)
	}
}

func TestLoginStatus(t *testing.T) {
	cases := []struct {
		status  LoginStatus
		success bool
		message string
	}{
		{LoggedIn, true, "Login successful"},
		{AddedNewUser, true, "New user created"},
		{AlreadyLoggedIn, false, "User already logged in"},
		{WrongPassword, false, "Wrong password"},
		{ClientAlreadyConnected, false, "Client already connected"},
		{LoginFailed, false, "Login failed"},
		{LoginStatus(200), false, "Login failed"},
	}
	for _, c := range cases {
		if c.status.Success() != c.success {
			t.Errorf("%s.Success() = %v", c.status, !c.success)
		}
		if c.status.Message() != c.message {
			t.Errorf("%s.Message() = %q, want %q", c.status, c.status.Message(), c.message)
		}
	}
}

func TestMemoryDirectoryHashesOutsideLock(t *testing.T) {
	d := NewMemoryDirectory(bcrypt.MinCost)
	entered := make(chan struct{})
	release := make(chan struct{})
	d.hash = func(password []byte, cost int) ([]byte, error) {
		if string(password) == "slow" {
			close(entered)
			<-release
		}
		return bcrypt.GenerateFromPassword(password, cost)
	}

	done := make(chan LoginStatus, 1)
	go func() { done <- d.Login(1, "alice", "slow") }()
	<-entered

	// alice 的 bcrypt 计算进行中，其他用户的登录不受阻塞
	finished := make(chan LoginStatus, 1)
	go func() { finished <- d.Login(2, "bob", "pw") }()
	select {
	case got := <-finished:
		if got != AddedNewUser {
			t.Fatalf("Login(bob) = %s, want AddedNewUser", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Login(bob) blocked behind a pending login")
	}
	if got := d.Login(3, "alice", "slow"); got != AlreadyLoggedIn {
		t.Fatalf("Login(alice) while pending = %s, want AlreadyLoggedIn", got)
	}

	close(release)
	if got := <-done; got != AddedNewUser {
		t.Fatalf("Login(alice) = %s, want AddedNewUser", got)
	}
	report, _ := d.Report(context.Background())
	if report.Online != 2 || len(report.Users) != 2 {
		t.Fatalf("unexpected report: online=%d users=%d", report.Online, len(report.Users))
	}
}

func TestMemoryDirectoryFailedLoginReleasesReservation(t *testing.T) {
	d := NewMemoryDirectory(bcrypt.MinCost)
	d.hash = func([]byte, int) ([]byte, error) { return nil, bcrypt.ErrPasswordTooLong }

	if got := d.Login(1, "alice", "pw"); got != LoginFailed {
		t.Fatalf("Login() = %s, want LoginFailed", got)
	}
	d.hash = bcrypt.GenerateFromPassword
	if got := d.Login(1, "alice", "pw"); got != AddedNewUser {
		t.Fatalf("Login() after failure = %s, want AddedNewUser", got)
	}
	if got := d.Login(2, "alice", "bad"); got != AlreadyLoggedIn {
		t.Fatalf("Login() = %s, want AlreadyLoggedIn", got)
	}
}
