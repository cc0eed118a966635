package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/config"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/utils"
)

const (
	MongoBackend = "mongo"

	UserCollectionName   = "users"
	LoginCollectionName  = "login_history"
	UploadCollectionName = "file_tracking"

	defaultOperationTimeout = 5 * time.Second
	defaultCacheTTL         = time.Hour
)

func init() {
	Register(MongoBackend, func(ctx context.Context, cfg config.Config) (Directory, error) {
		return NewMongoDirectory(ctx, cfg)
	})
}

type mongoUser struct {
	Username     string    `bson:"username"`
	PasswordHash []byte    `bson:"password_hash"`
	RegisteredAt time.Time `bson:"registered_at"`
}

// MongoDirectory 以 MongoDB 持久化用户、登录历史与上传记录；
// 在线状态只存在于本进程内存中
type MongoDirectory struct {
	client  *mongo.Client
	users   *mongo.Collection
	logins  *mongo.Collection
	uploads *mongo.Collection

	cost      int
	timeout   time.Duration
	userCache *expirable.LRU[string, *mongoUser]

	mu       sync.Mutex
	sessions *sessionTable
	loginIDs map[int64]any
}

// mongoURI 构造连接串，用户名为空时不携带认证信息
func mongoURI(database config.DatabaseConfig) string {
	u := url.URL{
		Scheme: "mongodb",
		Host:   fmt.Sprintf("%s:%d", database.Host, database.Port),
		Path:   "/",
	}
	if database.Username != "" {
		u.User = url.UserPassword(database.Username, database.Password)
		u.RawQuery = url.Values{"authSource": {"admin"}}.Encode()
	}
	return u.String()
}

func clientOptions(cfg config.Config) *options.ClientOptions {
	database := cfg.Directory.Database

	clientOptions := options.Client().ApplyURI(mongoURI(database)).SetAppName(cfg.AppName)
	// 连接池配置
	clientOptions.SetMinPoolSize(database.MinPoolSize)
	clientOptions.SetMaxPoolSize(database.MaxPoolSize)
	if idle := utils.ParseStringTime(database.ConnectIdleTimeout); idle > 0 {
		clientOptions.SetMaxConnIdleTime(idle)
	}
	// 超时限制
	if timeout := utils.ParseStringTime(database.ConnectTimeout); timeout > 0 {
		clientOptions.SetConnectTimeout(timeout)
	}
	if timeout := utils.ParseStringTime(database.SocketTimeout); timeout > 0 {
		clientOptions.SetSocketTimeout(timeout)
	}
	// 心跳包
	if heartbeat := utils.ParseStringTime(database.Heartbeat); heartbeat > 0 {
		clientOptions.SetHeartbeatInterval(heartbeat)
	}
	if database.UseTLS {
		clientOptions.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	// 连接池监控
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				logger.DebugF("Database connection created: %s#%d", evt.Address, evt.ConnectionID)
			case event.ConnectionClosed:
				logger.DebugF("Database connection closed: %s#%d (%s)", evt.Address, evt.ConnectionID, evt.Reason)
			}
		},
	})
	return clientOptions
}

func NewMongoDirectory(ctx context.Context, cfg config.Config) (*MongoDirectory, error) {
	logger.DebugF("Connecting to database...")

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("error occured while connecting to database: %w", err)
	}
	if err = client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, fmt.Errorf("error occured while pinging database: %w", err)
	}

	db := client.Database(cfg.Directory.Database.Database)
	d := &MongoDirectory{
		client:    client,
		users:     db.Collection(UserCollectionName),
		logins:    db.Collection(LoginCollectionName),
		uploads:   db.Collection(UploadCollectionName),
		cost:      cfg.Directory.BcryptCost,
		timeout:   utils.ParseStringTimeOr(cfg.Directory.Database.OperationTimeout, defaultOperationTimeout),
		userCache: expirable.NewLRU[string, *mongoUser](cfg.Directory.CacheSize, nil, utils.ParseStringTimeOr(cfg.Directory.CacheTTL, defaultCacheTTL)),
		sessions:  newSessionTable(),
		loginIDs:  make(map[int64]any),
	}

	if err = d.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, err
	}
	logger.InfoF("Connected to database %s", cfg.Directory.Database.Database)
	return d, nil
}

func (d *MongoDirectory) ensureIndexes(ctx context.Context) error {
	_, err := d.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("users_username_unique"),
	})
	if err != nil {
		return fmt.Errorf("error occured while creating database indexes: %w", err)
	}
	_, err = d.logins.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}, {Key: "login_at", Value: -1}},
		Options: options.Index().SetName("login_history_username_login_at"),
	})
	if err != nil {
		return fmt.Errorf("error occured while creating database indexes: %w", err)
	}
	return nil
}

func (d *MongoDirectory) findUser(ctx context.Context, username string) (*mongoUser, error) {
	if user, ok := d.userCache.Get(username); ok {
		return user, nil
	}

	var user mongoUser
	startTime := time.Now()
	err := d.users.FindOne(ctx, bson.D{{Key: "username", Value: username}}).Decode(&user)
	logger.DebugF("user query cost: %v", time.Since(startTime))
	if err != nil {
		return nil, err
	}
	d.userCache.Add(username, &user)
	return &user, nil
}

func (d *MongoDirectory) createUser(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return fmt.Errorf("fail to hash password: %w", err)
	}
	user := &mongoUser{Username: username, PasswordHash: hash, RegisteredAt: time.Now()}
	if _, err = d.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("unique key conflicts: %w", err)
		}
		return fmt.Errorf("database operation failed: %w", err)
	}
	d.userCache.Add(username, user)
	return nil
}

// Login 在锁内占位会话，查询、注册、密码校验与登录记录都在锁外完成，
// 失败时撤销占位
func (d *MongoDirectory) Login(connID int64, username, password string) LoginStatus {
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
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	status := d.authenticate(ctx, connID, username, password)
	if !status.Success() {
		d.mu.Lock()
		d.sessions.remove(connID)
		d.mu.Unlock()
		return status
	}

	result, err := d.logins.InsertOne(ctx, LoginRecord{Username: username, ConnectionID: connID, LoginAt: time.Now()})
	if err != nil {
		logger.WarnF("[%d] Fail to record login of %s, details: %v", connID, username, err)
	} else {
		d.mu.Lock()
		d.loginIDs[connID] = result.InsertedID
		d.mu.Unlock()
	}
	logger.InfoF("[%d] User %s logged in (%s)", connID, username, status)
	return status
}

// authenticate 校验已有用户的密码，用户不存在时注册
func (d *MongoDirectory) authenticate(ctx context.Context, connID int64, username, password string) LoginStatus {
	user, err := d.findUser(ctx, username)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		if err = d.createUser(ctx, username, password); err != nil {
			logger.ErrorF("[%d] Fail to register user %s, details: %v", connID, username, err)
			return LoginFailed
		}
		return AddedNewUser
	case err != nil:
		logger.ErrorF("[%d] Fail to query user %s, details: %v", connID, username, err)
		return LoginFailed
	case bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil:
		return WrongPassword
	}
	return LoggedIn
}

func (d *MongoDirectory) Logout(connID int64) {
	d.mu.Lock()
	username, ok := d.sessions.remove(connID)
	loginID, recorded := d.loginIDs[connID]
	delete(d.loginIDs, connID)
	d.mu.Unlock()

	if !ok {
		return
	}
	logger.InfoF("[%d] User %s logged out", connID, username)
	if !recorded {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	_, err := d.logins.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: loginID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "logout_at", Value: time.Now()}}}},
	)
	if err != nil {
		logger.WarnF("[%d] Fail to record logout of %s, details: %v", connID, username, err)
	}
}

func (d *MongoDirectory) TrackUpload(username, fileName, destination string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	record := UploadRecord{Username: username, FileName: fileName, Destination: destination, UploadedAt: time.Now()}
	if _, err := d.uploads.InsertOne(ctx, record); err != nil {
		logger.WarnF("Fail to track upload %s of %s, details: %v", fileName, username, err)
	}
}

func findAll[T any](ctx context.Context, collection *mongo.Collection, sortKey string) ([]T, error) {
	cursor, err := collection.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: sortKey, Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("database operation failed: %w", err)
	}
	records := make([]T, 0)
	if err = cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("database operation failed: %w", err)
	}
	return records, nil
}

func (d *MongoDirectory) Report(ctx context.Context) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var (
		report = &Report{}
		err    error
	)
	if report.Users, err = findAll[UserRecord](ctx, d.users, "registered_at"); err != nil {
		return nil, err
	}
	if report.Logins, err = findAll[LoginRecord](ctx, d.logins, "login_at"); err != nil {
		return nil, err
	}
	if report.Uploads, err = findAll[UploadRecord](ctx, d.uploads, "uploaded_at"); err != nil {
		return nil, err
	}

	d.mu.Lock()
	report.Online = d.sessions.size()
	d.mu.Unlock()
	return report, nil
}

func (d *MongoDirectory) Close(ctx context.Context) error {
	logger.InfoF("Closing database connection")
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.client.Disconnect(ctx)
}
