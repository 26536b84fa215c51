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
	"golang.org/x/sys/unix"

	"github.com/cf-sky/reactor/pkg/logging"
	"github.com/cf-sky/reactor/pkg/rerrors"
)

// createNonblockingSocket opens a non-blocking, close-on-exec IPv4 TCP
// socket, the Go equivalent of Acceptor.cc's createNonblocking.
func createNonblockingSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		logging.Fatalf("listen socket create error: %v", err)
	}
	return fd, err
}

func setReuseAddr(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

// setReusePort enables SO_REUSEPORT so several EventLoopThreadPool
// processes, or several listeners within one process, can share one port
// with kernel-side load balancing across accept queues.
func setReusePort(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

func setKeepAlive(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
}

func setTCPNoDelay(fd int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}

func bindAddress(fd int, addr InetAddress) error {
	var sa unix.SockaddrInet4
	sa.Port = int(addr.Port())
	copy(sa.Addr[:], addr.IP().To4())
	return unix.Bind(fd, &sa)
}

// listenBacklog is the fixed backlog passed to listen(2).
const listenBacklog = 1024

func listenSocket(fd int) error {
	return unix.Listen(fd, listenBacklog)
}

// acceptConn accepts one pending connection off fd, returning the new
// non-blocking, close-on-exec connection fd and the peer's address.
func acceptConn(fd int) (int, InetAddress, error) {
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, InetAddress{}, err
	}
	inet4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return nfd, InetAddress{}, rerrors.ErrUnsupportedAddressFamily
	}
	addr := inetAddressFromSockaddr(inet4.Addr, uint16(inet4.Port))
	return nfd, addr, nil
}

// getLocalAddr reads back the address a bound/connected fd is using,
// needed when the caller binds to port 0 and wants to know the kernel-
// assigned port.
func getLocalAddr(fd int) (InetAddress, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return InetAddress{}, err
	}
	inet4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return InetAddress{}, rerrors.ErrUnsupportedAddressFamily
	}
	return inetAddressFromSockaddr(inet4.Addr, uint16(inet4.Port)), nil
}
