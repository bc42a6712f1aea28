package utils

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"

	e "github.com/fansqz/sampsharp-debugger/error"
)

// DefaultDebuggerPort 远程调试默认端口
const DefaultDebuggerPort = 6438

// DebuggerAddress 远程调试监听地址
type DebuggerAddress struct {
	IP   netip.Addr
	Port uint16
}

// LoopbackAddress 本机回环地址
func LoopbackAddress(port uint16) DebuggerAddress {
	return DebuggerAddress{IP: netip.AddrFrom4([4]byte{127, 0, 0, 1}), Port: port}
}

// ParseDebuggerAddress 解析ip:port形式的地址
func ParseDebuggerAddress(s string) (DebuggerAddress, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return DebuggerAddress{}, fmt.Errorf("%w: %s", e.ErrInvalidAddress, s)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return DebuggerAddress{}, fmt.Errorf("%w: %s", e.ErrInvalidAddress, s)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return DebuggerAddress{}, fmt.Errorf("%w: %s", e.ErrInvalidAddress, s)
	}
	return DebuggerAddress{IP: ip, Port: uint16(port)}, nil
}

func (a DebuggerAddress) String() string {
	return netip.AddrPortFrom(a.IP, a.Port).String()
}

// IsAvailable 端口当前是否可以监听
func (a DebuggerAddress) IsAvailable() bool {
	listener, err := net.Listen("tcp", a.String())
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}

// NextAvailable 从下一个端口开始查找可用端口，只对回环地址有效
func (a DebuggerAddress) NextAvailable() (DebuggerAddress, bool) {
	if !a.IP.IsLoopback() && !a.IP.IsUnspecified() {
		return DebuggerAddress{}, false
	}
	for port := int(a.Port) + 1; port <= 65535; port++ {
		next := DebuggerAddress{IP: a.IP, Port: uint16(port)}
		if next.IsAvailable() {
			return next, true
		}
	}
	return DebuggerAddress{}, false
}

// AllocateDebuggerAddress 由系统分配一个可用的回环端口
func AllocateDebuggerAddress() (DebuggerAddress, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return DebuggerAddress{}, err
	}
	defer listener.Close()
	addrPort, err := netip.ParseAddrPort(listener.Addr().String())
	if err != nil {
		return DebuggerAddress{}, err
	}
	return DebuggerAddress{IP: addrPort.Addr(), Port: addrPort.Port()}, nil
}
