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
)

// channel registration state, private to the poller. A channel with no
// events of interest is "deleted" from the OS multiplexer but kept in the
// fd->channel map so re-enabling later is cheap.
const (
	chanStateNew = iota
	chanStateAdded
	chanStateDeleted
)

// PollEvent is the ready-event bitmask a poller reports for a fd. The bit
// positions are exactly epoll's (EPOLLIN/EPOLLOUT/...), since the epoll
// backend stores and restores ch.interest() straight into an
// unix.EpollEvent.Events field with no translation.
type PollEvent uint32

const (
	EventNone     PollEvent = 0
	EventReadable PollEvent = PollEvent(unix.EPOLLIN)
	EventWritable PollEvent = PollEvent(unix.EPOLLOUT)
	EventHup      PollEvent = PollEvent(unix.EPOLLHUP)
	EventErr      PollEvent = PollEvent(unix.EPOLLERR)
	EventPriority PollEvent = PollEvent(unix.EPOLLPRI)
)

// poller is the readiness multiplexer contract the epoll backend
// implements: register/modify/remove channels keyed by fd, block until any
// is ready.
type poller interface {
	// poll blocks up to timeout, appends every Channel whose fd became
	// ready into active (annotated with its ready mask), and returns the
	// wake-up timestamp. EINTR yields an empty result, not an error.
	poll(timeout time.Duration, active *[]*Channel) (time.Time, error)
	updateChannel(ch *Channel)
	removeChannel(ch *Channel)
	hasChannel(ch *Channel) bool
	close() error
}
