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
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cf-sky/reactor/pkg/logging"
	"github.com/cf-sky/reactor/pkg/rerrors"
)

// ConnState is the TcpConnection lifecycle state. It only ever moves
// forward: connecting -> connected -> disconnecting -> disconnected.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

// defaultHighWaterMark is the output-buffer size, in bytes, past which
// HighWaterMarkCallback fires.
const defaultHighWaterMark = 64 * 1024 * 1024

type (
	ConnectionCallback     func(conn *TcpConnection)
	MessageCallback        func(conn *TcpConnection, buf *Buffer, receiveTime time.Time)
	WriteCompleteCallback  func(conn *TcpConnection)
	HighWaterMarkCallback  func(conn *TcpConnection, bytesQueued int)
	CloseCallback          func(conn *TcpConnection)
)

// TcpConnection wraps one established (or accepted) socket: a Channel
// driving its readability/writability, an input and output Buffer, and the
// five callbacks a TcpServer wires through. Every method that touches
// channel or the buffers must run on loop's own thread — Send and
// Shutdown bounce to it via RunInLoop when called from elsewhere.
type TcpConnection struct {
	loop *EventLoop
	name string

	state ConnState // atomic

	reading bool

	fd      int
	channel *Channel

	localAddr InetAddress
	peerAddr  InetAddress

	inputBuffer  *Buffer
	outputBuffer *Buffer

	highWaterMark int
	fdClosed      int32 // atomic, guards unix.Close(c.fd) against running twice

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	closeCallback         CloseCallback
}

// NewTcpConnection wires up a Channel for fd on loop, defaulting to the 64
// MiB high-water mark. The connection starts in StateConnecting; the owner
// (TcpServer) calls ConnectEstablished once it has finished wiring
// callbacks.
func NewTcpConnection(loop *EventLoop, name string, fd int, localAddr, peerAddr InetAddress) *TcpConnection {
	c := &TcpConnection{
		loop:          loop,
		name:          name,
		state:         StateConnecting,
		reading:       true,
		fd:            fd,
		localAddr:     localAddr,
		peerAddr:      peerAddr,
		inputBuffer:   NewBuffer(),
		outputBuffer:  NewBuffer(),
		highWaterMark: defaultHighWaterMark,
	}
	c.channel = newChannel(loop, fd)
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)

	if err := setKeepAlive(fd); err != nil {
		logging.Errorf("TcpConnection[%s]: SO_KEEPALIVE error: %v", name, err)
	}
	logging.Infof("TcpConnection[%s] ctor at fd=%d", name, fd)
	return c
}

func (c *TcpConnection) Name() string          { return c.name }
func (c *TcpConnection) LocalAddr() InetAddress { return c.localAddr }
func (c *TcpConnection) PeerAddr() InetAddress  { return c.peerAddr }
func (c *TcpConnection) Fd() int                { return c.fd }
func (c *TcpConnection) Loop() *EventLoop       { return c.loop }

// State is safe to call from any thread; Channel.handleEvent relies on
// that to decide whether a tied, already-gone connection's events should
// be discarded.
func (c *TcpConnection) State() ConnState {
	return ConnState(atomic.LoadInt32((*int32)(&c.state)))
}

func (c *TcpConnection) setState(s ConnState) {
	atomic.StoreInt32((*int32)(&c.state), int32(s))
}

func (c *TcpConnection) Connected() bool { return c.State() == StateConnected }

func (c *TcpConnection) SetConnectionCallback(cb ConnectionCallback)       { c.connectionCallback = cb }
func (c *TcpConnection) SetMessageCallback(cb MessageCallback)             { c.messageCallback = cb }
func (c *TcpConnection) SetWriteCompleteCallback(cb WriteCompleteCallback) { c.writeCompleteCallback = cb }
func (c *TcpConnection) SetHighWaterMarkCallback(cb HighWaterMarkCallback, mark int) {
	c.highWaterMarkCallback = cb
	c.highWaterMark = mark
}
func (c *TcpConnection) SetCloseCallback(cb CloseCallback) { c.closeCallback = cb }

// Send queues data for delivery, bouncing to the connection's own loop if
// called from elsewhere. Returns rerrors.ErrConnectionClosed once the
// connection has left StateConnected instead of queuing anything.
func (c *TcpConnection) Send(data []byte) error {
	if c.State() != StateConnected {
		return rerrors.ErrConnectionClosed
	}
	if c.loop.inLoopThread() {
		c.sendInLoop(data)
	} else {
		buf := append([]byte(nil), data...)
		c.loop.RunInLoop(func() { c.sendInLoop(buf) })
	}
	return nil
}

func (c *TcpConnection) sendInLoop(data []byte) {
	if c.State() == StateDisconnected {
		logging.Errorf("TcpConnection[%s]: disconnected, give up writing", c.name)
		return
	}

	var nwrote int
	var faultError bool

	if !c.channel.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := unix.Write(c.fd, data)
		if err == nil {
			nwrote = n
			if nwrote == len(data) && c.writeCompleteCallback != nil {
				cb := c.writeCompleteCallback
				c.loop.QueueInLoop(func() { cb(c) })
			}
		} else {
			nwrote = 0
			if err != unix.EWOULDBLOCK && err != unix.EAGAIN {
				logging.Errorf("TcpConnection[%s]: sendInLoop write error: %v", c.name, err)
				if err == unix.EPIPE || err == unix.ECONNRESET {
					faultError = true
				}
			}
		}
	}

	remaining := data[nwrote:]
	if !faultError && len(remaining) > 0 {
		oldLen := c.outputBuffer.ReadableBytes()
		newLen := oldLen + len(remaining)
		if newLen >= c.highWaterMark && oldLen < c.highWaterMark && c.highWaterMarkCallback != nil {
			cb := c.highWaterMarkCallback
			c.loop.QueueInLoop(func() { cb(c, newLen) })
		}
		c.outputBuffer.Append(remaining)
		if !c.channel.IsWriting() {
			c.channel.EnableWriting()
		}
	}
}

// Shutdown half-closes the write side once any queued output has drained.
// Returns rerrors.ErrConnectionClosed unless currently StateConnected.
func (c *TcpConnection) Shutdown() error {
	if c.State() != StateConnected {
		return rerrors.ErrConnectionClosed
	}
	c.setState(StateDisconnecting)
	c.loop.RunInLoop(c.shutdownInLoop)
	return nil
}

func (c *TcpConnection) shutdownInLoop() {
	if !c.channel.IsWriting() {
		if err := unix.Shutdown(c.fd, unix.SHUT_WR); err != nil {
			logging.Errorf("TcpConnection[%s]: shutdown write error: %v", c.name, err)
		}
	}
}

// ForceClose tears the connection down on its loop regardless of queued
// output. TcpServer.Close does not call it; it drives ConnectDestroyed.
func (c *TcpConnection) ForceClose() {
	if c.State() == StateConnected || c.State() == StateDisconnecting {
		c.setState(StateDisconnecting)
		c.loop.QueueInLoop(func() { c.handleClose() })
	}
}

// ConnectEstablished ties the channel to this connection, enables
// readability, and fires the connection callback. Must run on loop's own
// thread, right after the connection is registered with its TcpServer.
func (c *TcpConnection) ConnectEstablished() {
	c.setState(StateConnected)
	c.channel.Tie(c)
	c.channel.EnableReading()
	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
}

// ConnectDestroyed fires the connection callback one last time if the
// connection is still StateConnected (handleClose has already fired it
// otherwise), then unregisters the channel and closes the fd. Called by
// TcpServer as the final step of removing a connection from its table.
func (c *TcpConnection) ConnectDestroyed() {
	if c.State() == StateConnected {
		c.setState(StateDisconnected)
		c.channel.DisableAll()
		if c.connectionCallback != nil {
			c.connectionCallback(c)
		}
	}
	c.channel.remove()
	c.closeFd()
}

// closeFd closes the connection's socket fd exactly once, however many of
// handleClose/ConnectDestroyed end up running for this connection.
func (c *TcpConnection) closeFd() {
	if !atomic.CompareAndSwapInt32(&c.fdClosed, 0, 1) {
		return
	}
	if err := unix.Close(c.fd); err != nil {
		logging.Errorf("TcpConnection[%s]: close fd=%d error: %v", c.name, c.fd, err)
	}
}

func (c *TcpConnection) handleRead(receiveTime time.Time) {
	n, err := c.inputBuffer.ReadFd(c.fd)
	switch {
	case n > 0:
		if c.messageCallback != nil {
			c.messageCallback(c, c.inputBuffer, receiveTime)
		}
	case n == 0:
		c.handleClose()
	default:
		logging.Errorf("TcpConnection[%s]: handleRead error: %v", c.name, err)
		c.handleError()
	}
}

// handleWrite drains outputBuffer onto the fd. Once it is fully drained it
// disables writing interest and, if a shutdown is already pending, finishes
// the half-close.
func (c *TcpConnection) handleWrite() {
	if !c.channel.IsWriting() {
		logging.Warnf("TcpConnection[%s]: fd=%d is down, no more writing", c.name, c.fd)
		return
	}
	n, err := unix.Write(c.fd, c.outputBuffer.Peek())
	if err != nil {
		if err != unix.EWOULDBLOCK && err != unix.EAGAIN {
			logging.Errorf("TcpConnection[%s]: handleWrite error: %v", c.name, err)
		}
		return
	}
	c.outputBuffer.Retrieve(n)
	if c.outputBuffer.ReadableBytes() == 0 {
		c.channel.DisableWriting()
		if c.writeCompleteCallback != nil {
			cb := c.writeCompleteCallback
			c.loop.QueueInLoop(func() { cb(c) })
		}
		if c.State() == StateDisconnecting {
			c.shutdownInLoop()
		}
	}
}

func (c *TcpConnection) handleClose() {
	logging.Infof("TcpConnection[%s]: handleClose fd=%d state=%d", c.name, c.fd, c.State())
	c.setState(StateDisconnected)
	c.channel.DisableAll()
	c.closeFd()

	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
	if c.closeCallback != nil {
		c.closeCallback(c)
	}
}

func (c *TcpConnection) handleError() {
	errno, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		logging.Errorf("TcpConnection[%s]: SO_ERROR getsockopt error: %v", c.name, err)
		return
	}
	logging.Errorf("TcpConnection[%s]: SO_ERROR=%d", c.name, errno)
}
