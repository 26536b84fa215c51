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
	"runtime"
	"sync"
)

// ThreadInitCallback runs on a sub-loop's own goroutine right after the
// EventLoop is constructed, before it starts polling.
type ThreadInitCallback func(loop *EventLoop)

// EventLoopThread spawns one goroutine, pins it to its OS thread, and runs
// exactly one EventLoop on it for the goroutine's lifetime.
type EventLoopThread struct {
	callback ThreadInitCallback

	mu   sync.Mutex
	cond *sync.Cond
	loop *EventLoop

	done chan struct{}
}

// NewEventLoopThread constructs an EventLoopThread. cb may be nil.
func NewEventLoopThread(cb ThreadInitCallback) *EventLoopThread {
	t := &EventLoopThread{callback: cb, done: make(chan struct{})}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// StartLoop starts the backing goroutine and blocks until its EventLoop has
// been constructed, returning it.
func (t *EventLoopThread) StartLoop() *EventLoop {
	go t.threadFunc()

	t.mu.Lock()
	defer t.mu.Unlock()
	for t.loop == nil {
		t.cond.Wait()
	}
	return t.loop
}

// Stop quits the sub-loop and blocks until threadFunc has returned, joining
// the goroutine. Safe to call once StartLoop's EventLoop has been handed
// back; a no-op if the thread was never started.
func (t *EventLoopThread) Stop() {
	t.mu.Lock()
	loop := t.loop
	t.mu.Unlock()
	if loop == nil {
		return
	}
	loop.Quit()
	<-t.done
}

func (t *EventLoopThread) threadFunc() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	loop := NewEventLoop()
	if t.callback != nil {
		t.callback(loop)
	}

	t.mu.Lock()
	t.loop = loop
	t.cond.Signal()
	t.mu.Unlock()

	loop.Loop()
	loop.Close()

	t.mu.Lock()
	t.loop = nil
	t.mu.Unlock()
	close(t.done)
}
