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

import "github.com/cf-sky/reactor/pkg/logging"

// EventLoopThreadPool owns zero or more sub-loops and round-robins
// accepted connections across them. With zero sub-loops every connection
// runs on the base loop instead (single-threaded mode).
type EventLoopThreadPool struct {
	baseLoop *EventLoop
	name     string

	started    bool
	numThreads int

	threads []*EventLoopThread
	loops   []*EventLoop
	next    int
}

// NewEventLoopThreadPool constructs a pool bound to baseLoop. numThreads
// chooses how many sub-loops Start spins up; 0 means the base loop alone
// handles every connection.
func NewEventLoopThreadPool(baseLoop *EventLoop, name string, numThreads int) *EventLoopThreadPool {
	return &EventLoopThreadPool{
		baseLoop:   baseLoop,
		name:       name,
		numThreads: numThreads,
	}
}

// Start spins up numThreads sub-loops, each running cb (if non-nil) once
// before entering its poll loop. If numThreads is 0, cb runs on baseLoop
// directly instead.
func (p *EventLoopThreadPool) Start(cb ThreadInitCallback) {
	p.started = true
	logging.Infof("EventLoopThreadPool %q starting %d sub-loops", p.name, p.numThreads)
	for i := 0; i < p.numThreads; i++ {
		t := NewEventLoopThread(cb)
		p.threads = append(p.threads, t)
		p.loops = append(p.loops, t.StartLoop())
	}
	if p.numThreads == 0 && cb != nil {
		cb(p.baseLoop)
	}
}

// GetNextLoop returns the next sub-loop in round-robin order, or baseLoop
// if the pool has none.
func (p *EventLoopThreadPool) GetNextLoop() *EventLoop {
	loop := p.baseLoop
	if len(p.loops) > 0 {
		loop = p.loops[p.next]
		p.next++
		if p.next >= len(p.loops) {
			p.next = 0
		}
	}
	return loop
}

// GetAllLoops returns every sub-loop, or a single-element slice holding
// baseLoop if the pool has none.
func (p *EventLoopThreadPool) GetAllLoops() []*EventLoop {
	if len(p.loops) == 0 {
		return []*EventLoop{p.baseLoop}
	}
	return p.loops
}

// Stop quits and joins every sub-loop thread Start spun up. The base loop
// is not owned by the pool and is left running; its caller quits it
// separately. A no-op if Start was never called or spun up zero threads.
func (p *EventLoopThreadPool) Stop() {
	for _, t := range p.threads {
		t.Stop()
	}
}
