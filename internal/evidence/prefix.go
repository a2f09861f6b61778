package evidence

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/John-Robertt/ngreport/internal/domain"
)

// Prefix 是文件名中标识同一次拍摄的前缀：时间戳 + 工位/姿态序号。
type Prefix struct {
	Timestamp string
	Index     int
	// Pose 为 true 时 Key 使用 P<pose>_<ts> 形式。
	Pose bool
}

func (p Prefix) Key() string {
	if p.Pose {
		return fmt.Sprintf("P%d_%s", p.Index, p.Timestamp)
	}
	return fmt.Sprintf("%s_%d", p.Timestamp, p.Index)
}

// PrefixFunc 从文件名（不含扩展名）中提取前缀。
type PrefixFunc func(base string) (Prefix, bool)

var (
	// 14 位时间戳 + 工位号，例如 20240308153012_ST2、20240308153012-03。
	stationRE = regexp.MustCompile(`(?i)(?:^|\D)(\d{14})[_-]?(?:ST|S)?(\d{1,2})(?:\D|$)`)
	// 姿态号 + 12 位时间戳，例如 P3_240308153012、pose-12_240308153012。
	poseRE = regexp.MustCompile(`(?i)(?:^|[^A-Za-z])(?:POSE|P)[_-]?(\d{1,2})[_-](\d{12})(?:\D|$)`)
)

// StationPrefix 提取 “时间戳 + 工位” 前缀（AOI 系列）。
func StationPrefix(base string) (Prefix, bool) {
	m := stationRE.FindStringSubmatch(base)
	if m == nil {
		return Prefix{}, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return Prefix{}, false
	}
	return Prefix{Timestamp: m[1], Index: n}, true
}

// PosePrefix 提取 “姿态 + 时间戳” 前缀（机械臂相机）。
func PosePrefix(base string) (Prefix, bool) {
	m := poseRE.FindStringSubmatch(base)
	if m == nil {
		return Prefix{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return Prefix{}, false
	}
	return Prefix{Timestamp: m[2], Index: n, Pose: true}, true
}

// PrefixFor 返回策略对应的前缀提取函数；策略 C 不做前缀对应，返回 nil。
func PrefixFor(p domain.Policy) PrefixFunc {
	switch p {
	case domain.PolicyA:
		return StationPrefix
	case domain.PolicyB:
		return PosePrefix
	default:
		return nil
	}
}
