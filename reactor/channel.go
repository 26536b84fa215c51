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

import "time"

// ReadEventCallback fires on readability, carrying the poll's receive time.
type ReadEventCallback func(receiveTime time.Time)

// EventCallback fires for write/close/error readiness, none of which need
// a timestamp.
type EventCallback func()

// Channel binds one fd, its interest mask, the poller's last-reported ready
// mask, and the four event callbacks. Owned by exactly one EventLoop;
// created before registration. The registration state (new/added/deleted)
// is private to the Poller and stored here as an opaque int.
type Channel struct {
	loop *EventLoop
	fd   int

	events  PollEvent
	revents PollEvent
	index   int // poller-private registration state

	readCallback  ReadEventCallback
	writeCallback EventCallback
	closeCallback EventCallback
	errorCallback EventCallback

	// tie is the "weak back-reference" to the owning higher-level object
	// (TcpConnection). Go has no dangling-pointer hazard a promoted weak
	// pointer guards against, so the liveness check this protects is
	// instead done with the connection's own state: handleEvent still
	// refuses to dispatch once tied is set to a connection whose state is
	// disconnected, matching "promote tie, return if gone".
	tied bool
	tie  *TcpConnection
}

func newChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, index: chanStateNew}
}

func (c *Channel) Fd() int { return c.fd }

func (c *Channel) SetReadCallback(cb ReadEventCallback)  { c.readCallback = cb }
func (c *Channel) SetWriteCallback(cb EventCallback)     { c.writeCallback = cb }
func (c *Channel) SetCloseCallback(cb EventCallback)     { c.closeCallback = cb }
func (c *Channel) SetErrorCallback(cb EventCallback)     { c.errorCallback = cb }

// Tie installs the owning TcpConnection so handleEvent can detect that the
// owner is already gone (disconnected) and discard the event instead of
// re-entering a dead connection.
func (c *Channel) Tie(conn *TcpConnection) {
	c.tie = conn
	c.tied = true
}

func (c *Channel) interest() PollEvent { return c.events }

func (c *Channel) setRevents(ev PollEvent) { c.revents = ev }

func (c *Channel) EnableReading()  { c.events |= EventReadable; c.update() }
func (c *Channel) DisableReading() { c.events &^= EventReadable; c.update() }
func (c *Channel) EnableWriting()  { c.events |= EventWritable; c.update() }
func (c *Channel) DisableWriting() { c.events &^= EventWritable; c.update() }
func (c *Channel) DisableAll()     { c.events = EventNone; c.update() }

func (c *Channel) IsNoneEvent() bool { return c.events == EventNone }
func (c *Channel) IsWriting() bool   { return c.events&EventWritable != 0 }
func (c *Channel) IsReading() bool   { return c.events&EventReadable != 0 }

func (c *Channel) regState() int         { return c.index }
func (c *Channel) setRegState(idx int)   { c.index = idx }

func (c *Channel) ownerLoop() *EventLoop { return c.loop }

func (c *Channel) update() { c.loop.updateChannel(c) }

// remove unregisters the channel from its loop's Poller. Must be called on
// the owning loop's thread, normally once the channel's fd is about to be
// closed.
func (c *Channel) remove() {
	if c.loop.hasChannel(c) {
		c.loop.removeChannel(c)
	}
}

// handleEvent dispatches the poller-reported ready mask to callbacks in the
// fixed order close -> error -> read -> write. If the channel is tied to an
// owner that is already gone, the event is discarded.
func (c *Channel) handleEvent(receiveTime time.Time) {
	if c.tied && c.tie != nil && c.tie.State() == StateDisconnected {
		return
	}
	c.handleEventWithGuard(receiveTime)
}

func (c *Channel) handleEventWithGuard(receiveTime time.Time) {
	if c.revents&EventHup != 0 && c.revents&EventReadable == 0 {
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}
	if c.revents&EventErr != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if c.revents&(EventReadable|EventHup|EventPriority) != 0 {
		if c.readCallback != nil {
			c.readCallback(receiveTime)
		}
	}
	if c.revents&EventWritable != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}
