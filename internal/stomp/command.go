// Package stomp 实现了STOMP帧的类型定义、解析与编解码
package stomp

import "strings"

// CommandType 定义了STOMP帧的命令类型
type CommandType byte

// STOMP 命令类型常量定义
const (
	UNKNOWN     CommandType = iota // 未识别的命令
	CONNECT                        // 客户端请求连接
	CONNECTED                      // 连接确认
	SEND                           // 发布消息
	SUBSCRIBE                      // 订阅请求
	UNSUBSCRIBE                    // 取消订阅
	DISCONNECT                     // 断开连接
	MESSAGE                        // 服务端投递的消息
	RECEIPT                        // 回执
	ERROR                          // 错误
)

// CommandTypeMap 将CommandType映射到其字符串表示
var CommandTypeMap = map[CommandType]string{
	CONNECT:     "CONNECT",
	CONNECTED:   "CONNECTED",
	SEND:        "SEND",
	SUBSCRIBE:   "SUBSCRIBE",
	UNSUBSCRIBE: "UNSUBSCRIBE",
	DISCONNECT:  "DISCONNECT",
	MESSAGE:     "MESSAGE",
	RECEIPT:     "RECEIPT",
	ERROR:       "ERROR",
}

var commandByName = func() map[string]CommandType {
	m := make(map[string]CommandType, len(CommandTypeMap))
	for command, name := range CommandTypeMap {
		m[name] = command
	}
	return m
}()

// String 返回CommandType的字符串表示
func (commandType CommandType) String() string {
	if name, ok := CommandTypeMap[commandType]; ok {
		return name
	}
	return "UNKNOWN"
}

// ClientCommand 报告该命令是否允许由客户端发送
func (commandType CommandType) ClientCommand() bool {
	switch commandType {
	case CONNECT, SEND, SUBSCRIBE, UNSUBSCRIBE, DISCONNECT:
		return true
	default:
		return false
	}
}

// LookupCommand 将命令行文本映射为CommandType，未知命令返回UNKNOWN
func LookupCommand(name string) CommandType {
	if command, ok := commandByName[strings.TrimSpace(name)]; ok {
		return command
	}
	return UNKNOWN
}

// 帧头名称
const (
	HeaderAcceptVersion = "accept-version"
	HeaderHost          = "host"
	HeaderLogin         = "login"
	HeaderPasscode      = "passcode"
	HeaderVersion       = "version"
	HeaderServer        = "server"
	HeaderSession       = "session"
	HeaderDestination   = "destination"
	HeaderID            = "id"
	HeaderReceipt       = "receipt"
	HeaderReceiptID     = "receipt-id"
	HeaderMessageID     = "message-id"
	HeaderSubscription  = "subscription"
	HeaderMessage       = "message"
	HeaderFileName      = "file-name"
)

// ProtocolVersion 是CONNECTED帧中返回的协议版本
const ProtocolVersion = "1.2"
