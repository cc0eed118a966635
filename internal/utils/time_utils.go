package utils

import (
	"strconv"
	"strings"
	"time"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
)

// 按后缀长度降序排列，保证 "ms" 先于 "m"/"s" 匹配
var timeUnits = []struct {
	suffix string
	unit   time.Duration
}{
	{"ms", time.Millisecond},
	{"s", time.Second},
	{"m", time.Minute},
	{"h", time.Hour},
	{"d", 24 * time.Hour},
}

// ParseStringTime 解析 "500ms" "10s" "5m" "2h" "1d" 形式的时间字符串，失败返回0
func ParseStringTime(timeString string) time.Duration {
	timeString = strings.ToLower(strings.TrimSpace(timeString))
	for _, u := range timeUnits {
		number, found := strings.CutSuffix(timeString, u.suffix)
		if !found {
			continue
		}
		value, err := strconv.Atoi(number)
		if err != nil || value < 0 {
			logger.ErrorF("Error parsing time string: %s", timeString)
			return 0
		}
		return time.Duration(value) * u.unit
	}
	logger.ErrorF("invalid time format: %s", timeString)
	return 0
}

// ParseStringTimeOr 在解析结果为0时返回 fallback
func ParseStringTimeOr(timeString string, fallback time.Duration) time.Duration {
	if timeString == "" {
		return fallback
	}
	if d := ParseStringTime(timeString); d > 0 {
		return d
	}
	return fallback
}
