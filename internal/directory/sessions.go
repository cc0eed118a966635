package directory

// sessionTable 维护 connection-id 与在线用户名的双向映射，由调用方加锁
type sessionTable struct {
	byConnection map[int64]string
	byUser       map[string]int64
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		byConnection: make(map[int64]string),
		byUser:       make(map[string]int64),
	}
}

func (t *sessionTable) connected(connID int64) bool {
	_, ok := t.byConnection[connID]
	return ok
}

func (t *sessionTable) online(username string) bool {
	_, ok := t.byUser[username]
	return ok
}

func (t *sessionTable) add(connID int64, username string) {
	t.byConnection[connID] = username
	t.byUser[username] = connID
}

func (t *sessionTable) remove(connID int64) (string, bool) {
	username, ok := t.byConnection[connID]
	if !ok {
		return "", false
	}
	delete(t.byConnection, connID)
	delete(t.byUser, username)
	return username, true
}

func (t *sessionTable) size() int {
	return len(t.byConnection)
}
