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
	"time"

	"golang.org/x/sys/unix"

	"github.com/cf-sky/reactor/ipfilter"
	"github.com/cf-sky/reactor/pkg/logging"
	"github.com/cf-sky/reactor/pkg/rerrors"
)

// NewConnectionCallback hands off a freshly accepted, already
// allow-list-checked connection fd and its peer address.
type NewConnectionCallback func(connFd int, peerAddr InetAddress)

// Acceptor owns the listening socket on the base loop: a single Channel
// registered for readability, whose callback accepts one connection per
// readiness event and forwards it to the server's dispatch policy.
type Acceptor struct {
	loop           *EventLoop
	acceptSocket   int
	acceptChannel  *Channel
	listening      bool
	newConnectionCallback NewConnectionCallback
	rejectedCallback      func()
}

// NewAcceptor creates and binds a listening socket for listenAddr and sets
// up its Channel; the Channel is registered with the poller only when
// Listen enables reading. reusePort controls SO_REUSEPORT.
func NewAcceptor(loop *EventLoop, listenAddr InetAddress, reusePort bool) *Acceptor {
	fd, err := createNonblockingSocket()
	if err != nil {
		logging.Fatalf("acceptor: create socket error: %v", err)
	}
	if err := setReuseAddr(fd); err != nil {
		logging.Errorf("acceptor: SO_REUSEADDR error: %v", err)
	}
	if reusePort {
		if err := setReusePort(fd); err != nil {
			logging.Errorf("acceptor: SO_REUSEPORT error: %v", err)
		}
	}
	if err := bindAddress(fd, listenAddr); err != nil {
		logging.Fatalf("acceptor: bind %s error: %v", listenAddr, err)
	}

	a := &Acceptor{
		loop:         loop,
		acceptSocket: fd,
	}
	a.acceptChannel = newChannel(loop, fd)
	a.acceptChannel.SetReadCallback(a.handleRead)
	return a
}

// SetNewConnectionCallback installs the dispatch hook invoked for every
// admitted connection.
func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) {
	a.newConnectionCallback = cb
}

// SetRejectedCallback installs a hook fired whenever a peer is refused by
// the ip allow list, before its fd is closed.
func (a *Acceptor) SetRejectedCallback(cb func()) {
	a.rejectedCallback = cb
}

// Listen starts listen(2) on the bound socket and enables readability.
// Must run on the acceptor's loop.
func (a *Acceptor) Listen() {
	a.listening = true
	if err := listenSocket(a.acceptSocket); err != nil {
		logging.Fatalf("acceptor: listen error: %v", err)
	}
	a.acceptChannel.EnableReading()
}

// Addr reads back the address the listening socket is bound to, useful
// when listenAddr was constructed with port 0 and the kernel chose one.
func (a *Acceptor) Addr() (InetAddress, error) {
	return getLocalAddr(a.acceptSocket)
}

// Close unregisters and closes the listening socket.
func (a *Acceptor) Close() {
	a.acceptChannel.DisableAll()
	a.acceptChannel.remove()
	_ = unix.Close(a.acceptSocket)
}

func (a *Acceptor) handleRead(_ time.Time) {
	connFd, peerAddr, err := acceptConn(a.acceptSocket)
	if err != nil {
		logging.Errorf("acceptor: %v: %v", rerrors.ErrAcceptSocket, err)
		if err == unix.EMFILE {
			logging.Errorf("acceptor: per-process fd limit reached")
		}
		return
	}
	if !ipfilter.Filter.Allow(peerAddr.ToIP()) {
		logging.Warnf("acceptor: rejecting %s, not in allow list", peerAddr)
		if a.rejectedCallback != nil {
			a.rejectedCallback()
		}
		_ = unix.Close(connFd)
		return
	}
	if a.newConnectionCallback != nil {
		a.newConnectionCallback(connFd, peerAddr)
	} else {
		_ = unix.Close(connFd)
	}
}
