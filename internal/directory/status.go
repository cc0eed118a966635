package directory

// LoginStatus 用户目录对一次登录请求的处理结果
type LoginStatus byte

const (
	LoginFailed            LoginStatus = iota // 目录内部错误
	LoggedIn                                  // 已有用户登录成功
	AddedNewUser                              // 新用户自动注册并登录
	AlreadyLoggedIn                           // 用户已在其他连接上登录
	WrongPassword                             // 密码错误
	ClientAlreadyConnected                    // 该连接已经登录过
)

var loginStatusNames = map[LoginStatus]string{
	LoginFailed:            "LoginFailed",
	LoggedIn:               "LoggedIn",
	AddedNewUser:           "AddedNewUser",
	AlreadyLoggedIn:        "AlreadyLoggedIn",
	WrongPassword:          "WrongPassword",
	ClientAlreadyConnected: "ClientAlreadyConnected",
}

var loginStatusMessages = map[LoginStatus]string{
	LoginFailed:            "Login failed",
	LoggedIn:               "Login successful",
	AddedNewUser:           "New user created",
	AlreadyLoggedIn:        "User already logged in",
	WrongPassword:          "Wrong password",
	ClientAlreadyConnected: "Client already connected",
}

// Success 报告登录是否被接受
func (s LoginStatus) Success() bool {
	return s == LoggedIn || s == AddedNewUser
}

func (s LoginStatus) String() string {
	if name, ok := loginStatusNames[s]; ok {
		return name
	}
	return "LoginFailed"
}

// Message 返回写入 ERROR 帧 message 头的文本
func (s LoginStatus) Message() string {
	if message, ok := loginStatusMessages[s]; ok {
		return message
	}
	return loginStatusMessages[LoginFailed]
}
