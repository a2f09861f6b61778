package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Device 是设备类型代码（规范化后为大写）。
type Device string

// Policy 决定 NG/OK 证据的选择规则。
type Policy string

const (
	// PolicyA：文件名前缀为 14 位时间戳 + 工位序号。
	PolicyA Policy = "A"
	// PolicyB：文件名前缀为姿态序号 + 12 位时间戳。
	PolicyB Policy = "B"
	// PolicyC：不做前缀匹配，取最新两张 NG + 首张 OK。
	PolicyC Policy = "C"
)

const (
	DeviceAOI  Device = "AOI"
	DeviceAOI2 Device = "AOI2"
	DeviceRBT  Device = "RBT"
	DeviceVIS  Device = "VIS"
)

var devicePolicies = map[Device]Policy{
	DeviceAOI:  PolicyA,
	DeviceAOI2: PolicyA,
	DeviceRBT:  PolicyB,
	DeviceVIS:  PolicyC,
}

// ParseDevice 校验并解析设备类型代码（大小写不敏感）。
func ParseDevice(s string) (Device, error) {
	d := Device(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := devicePolicies[d]; ok {
		return d, nil
	}
	names := make([]string, 0, len(devicePolicies))
	for _, k := range Devices() {
		names = append(names, string(k))
	}
	return "", fmt.Errorf("未知设备类型 %q，可选：%s", s, strings.Join(names, ", "))
}

// Policy 返回设备对应的选择规则；未知设备返回空串。
func (d Device) Policy() Policy {
	return devicePolicies[d]
}

// Devices 返回全部设备代码（字典序）。
func Devices() []Device {
	out := make([]Device, 0, len(devicePolicies))
	for d := range devicePolicies {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
