// Copyright (c) 2022 The reactor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

package reactor

import (
	"fmt"
	"net"

	"github.com/cf-sky/reactor/pkg/rerrors"
)

// InetAddress is an IPv4 endpoint, the Go equivalent of muduo's
// InetAddress: a thin wrapper that knows how to render itself as "ip" or
// "ip:port" without going through the heavier net.TCPAddr formatting.
type InetAddress struct {
	ip   net.IP
	port uint16
}

// NewInetAddress builds an InetAddress from a dotted-quad IPv4 string and a
// port. Returns an error for anything that isn't IPv4; only IPv4 is
// supported.
func NewInetAddress(ip string, port uint16) (InetAddress, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return InetAddress{}, fmt.Errorf("invalid ip %q", ip)
	}
	v4 := parsed.To4()
	if v4 == nil {
		return InetAddress{}, rerrors.ErrUnsupportedAddressFamily
	}
	return InetAddress{ip: v4, port: port}, nil
}

// inetAddressFromSockaddr converts the IPv4 address and port of a raw
// accept(2)/getsockname(2) result into an InetAddress. Callers reject
// anything but AF_INET before calling it.
func inetAddressFromSockaddr(sa [4]byte, port uint16) InetAddress {
	return InetAddress{ip: net.IPv4(sa[0], sa[1], sa[2], sa[3]), port: port}
}

func (a InetAddress) IP() net.IP   { return a.ip }
func (a InetAddress) Port() uint16 { return a.port }

// ToIP renders the address's IP alone, e.g. "127.0.0.1".
func (a InetAddress) ToIP() string {
	if a.ip == nil {
		return ""
	}
	return a.ip.String()
}

// ToIPPort renders "ip:port", e.g. "127.0.0.1:8080".
func (a InetAddress) ToIPPort() string {
	return fmt.Sprintf("%s:%d", a.ToIP(), a.port)
}

func (a InetAddress) String() string { return a.ToIPPort() }
