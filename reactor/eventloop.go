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
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cf-sky/reactor/pkg/logging"
	"github.com/cf-sky/reactor/pkg/rerrors"
)

// pollTimeout is the default blocking timeout for one poll cycle.
const pollTimeout = 10 * time.Second

// loopRegistry enforces "at most one EventLoop per OS thread". Go has no
// declared thread-locals, so the guard is a mutex-protected map keyed by the
// OS thread id captured right after runtime.LockOSThread.
var loopRegistry = struct {
	mu sync.Mutex
	m  map[int]*EventLoop
}{m: make(map[int]*EventLoop)}

func registerLoop(tid int, loop *EventLoop) {
	loopRegistry.mu.Lock()
	defer loopRegistry.mu.Unlock()
	if existing, ok := loopRegistry.m[tid]; ok && existing != nil {
		logging.Fatalf("thread %d: %v (existing loop %p)", tid, rerrors.ErrLoopAlreadyExists, existing)
	}
	loopRegistry.m[tid] = loop
}

func unregisterLoop(tid int) {
	loopRegistry.mu.Lock()
	defer loopRegistry.mu.Unlock()
	delete(loopRegistry.m, tid)
}

// Functor is a closure deferred onto a loop's own thread.
type Functor func()

// EventLoop is a per-thread reactor: it owns a Poller, the Channels it
// currently dispatches, a wake-up fd/Channel pair, the OS thread it was
// constructed on, and a mutex-protected queue of pending functors.
type EventLoop struct {
	poller poller

	threadID int

	quit              int32 // atomic bool
	callingPendingFns int32 // atomic bool, read by queueInLoop from any thread

	mu              sync.Mutex
	pendingFunctors []Functor

	wakeupFd      int
	wakeupChannel *Channel

	lastPoll time.Time
}

// NewEventLoop constructs an EventLoop on the calling goroutine. The caller
// must have already pinned this goroutine to its OS thread with
// runtime.LockOSThread for the one-loop-per-thread guard to mean anything.
// Fatal if this thread already owns a loop or if the wake-up fd cannot be
// created.
func NewEventLoop() *EventLoop {
	tid := unix.Gettid()

	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		logging.Fatalf("eventfd create error: %v", err)
	}

	el := &EventLoop{
		threadID: tid,
		wakeupFd: fd,
	}
	registerLoop(tid, el)

	p, err := newPoller()
	if err != nil {
		logging.Fatalf("poller create error: %v", err)
	}
	el.poller = p

	el.wakeupChannel = newChannel(el, fd)
	el.wakeupChannel.SetReadCallback(el.handleWakeupRead)
	el.wakeupChannel.EnableReading()

	logging.Debugf("EventLoop created %p in thread %d", el, tid)
	return el
}

// inLoopThread reports whether the caller is running on this loop's thread.
func (el *EventLoop) inLoopThread() bool {
	return unix.Gettid() == el.threadID
}

// Loop blocks until Quit is called. Must be invoked on the loop's own
// thread. Each cycle: poll once (bounded by pollTimeout), dispatch every
// ready channel's handleEvent, then drain the deferred-work queue.
func (el *EventLoop) Loop() {
	if !el.inLoopThread() {
		logging.Fatalf("EventLoop %p: %v", el, rerrors.ErrNotInLoopThread)
	}
	atomic.StoreInt32(&el.quit, 0)
	logging.Infof("EventLoop %p start looping", el)

	var active []*Channel
	for atomic.LoadInt32(&el.quit) == 0 {
		active = active[:0]
		now, err := el.poller.poll(pollTimeout, &active)
		if err != nil {
			logging.Errorf("EventLoop %p poll error: %v", el, err)
			continue
		}
		el.lastPoll = now
		for _, ch := range active {
			ch.handleEvent(now)
		}
		el.doPendingFunctors()
	}
	logging.Infof("EventLoop %p stop looping", el)
}

// Quit requests the loop to return from Loop within one poll timeout. Safe
// from any thread.
func (el *EventLoop) Quit() {
	atomic.StoreInt32(&el.quit, 1)
	if !el.inLoopThread() {
		el.wakeup()
	}
}

// RunInLoop executes fn inline if called on the owning thread, otherwise
// defers it via QueueInLoop. Returns rerrors.ErrEventLoopClosed in the
// deferred case if the loop has already been asked to quit.
func (el *EventLoop) RunInLoop(fn Functor) error {
	if el.inLoopThread() {
		fn()
		return nil
	}
	return el.QueueInLoop(fn)
}

// QueueInLoop appends fn under the loop's mutex and wakes the loop if the
// caller is on another thread, or if the loop is currently draining its
// queue (the drain-in-progress case: fn would otherwise miss this drain and
// wait a full poll cycle). Returns rerrors.ErrEventLoopClosed and drops fn
// if Quit has already been requested.
func (el *EventLoop) QueueInLoop(fn Functor) error {
	if atomic.LoadInt32(&el.quit) != 0 {
		logging.Warnf("EventLoop %p: %v, dropping queued functor", el, rerrors.ErrEventLoopClosed)
		return rerrors.ErrEventLoopClosed
	}

	el.mu.Lock()
	el.pendingFunctors = append(el.pendingFunctors, fn)
	el.mu.Unlock()

	if !el.inLoopThread() || atomic.LoadInt32(&el.callingPendingFns) != 0 {
		el.wakeup()
	}
	return nil
}

// doPendingFunctors swaps the queue into a local slice under the mutex and
// executes it unlocked, so a functor that calls QueueInLoop again cannot
// deadlock on the same mutex.
func (el *EventLoop) doPendingFunctors() {
	atomic.StoreInt32(&el.callingPendingFns, 1)

	el.mu.Lock()
	functors := el.pendingFunctors
	el.pendingFunctors = nil
	el.mu.Unlock()

	for _, fn := range functors {
		fn()
	}
	atomic.StoreInt32(&el.callingPendingFns, 0)
}

func (el *EventLoop) handleWakeupRead(time.Time) {
	var one [8]byte
	n, err := unix.Read(el.wakeupFd, one[:])
	if n != 8 || err != nil {
		logging.Errorf("EventLoop.handleWakeupRead reads %d bytes, err: %v", n, err)
	}
}

func (el *EventLoop) wakeup() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	n, err := unix.Write(el.wakeupFd, buf[:])
	if n != 8 || err != nil {
		logging.Errorf("EventLoop.wakeup writes %d bytes, err: %v", n, err)
	}
}

func (el *EventLoop) updateChannel(ch *Channel) { el.poller.updateChannel(ch) }
func (el *EventLoop) removeChannel(ch *Channel) { el.poller.removeChannel(ch) }
func (el *EventLoop) hasChannel(ch *Channel) bool { return el.poller.hasChannel(ch) }

// Close tears down the wake-up channel and closes the poller. Called once
// the loop's Loop() has returned.
func (el *EventLoop) Close() {
	el.wakeupChannel.DisableAll()
	el.wakeupChannel.remove()
	_ = unix.Close(el.wakeupFd)
	_ = el.poller.close()
	unregisterLoop(el.threadID)
}
