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

	"github.com/cf-sky/reactor/pkg/logging"
)

// initEventListSize is the starting capacity of the epoll_wait result
// buffer; it doubles whenever a poll comes back completely full.
const initEventListSize = 16

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{
		epollfd: fd,
		events:  make([]unix.EpollEvent, initEventListSize),
		channels: make(map[int]*Channel),
	}, nil
}

type epollPoller struct {
	epollfd  int
	events   []unix.EpollEvent
	channels map[int]*Channel
}

func (p *epollPoller) poll(timeout time.Duration, active *[]*Channel) (time.Time, error) {
	n, err := unix.EpollWait(p.epollfd, p.events, int(timeout.Milliseconds()))
	now := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return now, nil
		}
		return now, err
	}
	if n > 0 {
		p.fillActiveChannels(n, active)
		if n == len(p.events) {
			p.events = make([]unix.EpollEvent, len(p.events)*2)
		}
	}
	return now, nil
}

func (p *epollPoller) fillActiveChannels(n int, active *[]*Channel) {
	for i := 0; i < n; i++ {
		ch := p.channels[int(p.events[i].Fd)]
		if ch == nil {
			continue
		}
		ch.setRevents(PollEvent(p.events[i].Events))
		*active = append(*active, ch)
	}
}

func (p *epollPoller) updateChannel(ch *Channel) {
	state := ch.regState()
	if state == chanStateNew || state == chanStateDeleted {
		if state == chanStateNew {
			p.channels[ch.Fd()] = ch
		}
		ch.setRegState(chanStateAdded)
		p.update(unix.EPOLL_CTL_ADD, ch)
		return
	}
	if ch.IsNoneEvent() {
		ch.setRegState(chanStateDeleted)
		p.update(unix.EPOLL_CTL_DEL, ch)
	} else {
		p.update(unix.EPOLL_CTL_MOD, ch)
	}
}

func (p *epollPoller) removeChannel(ch *Channel) {
	delete(p.channels, ch.Fd())
	if ch.regState() == chanStateAdded {
		p.update(unix.EPOLL_CTL_DEL, ch)
	}
	ch.setRegState(chanStateNew)
}

func (p *epollPoller) hasChannel(ch *Channel) bool {
	existing, ok := p.channels[ch.Fd()]
	return ok && existing == ch
}

func (p *epollPoller) update(op int, ch *Channel) {
	ev := unix.EpollEvent{
		Events: uint32(ch.interest()),
		Fd:     int32(ch.Fd()),
	}
	if err := unix.EpollCtl(p.epollfd, op, ch.Fd(), &ev); err != nil {
		if op == unix.EPOLL_CTL_DEL {
			logging.Errorf("epoll_ctl del fd=%d error: %v", ch.Fd(), err)
			return
		}
		logging.Fatalf("epoll_ctl add/mod fd=%d error: %v", ch.Fd(), err)
	}
}

func (p *epollPoller) close() error {
	return unix.Close(p.epollfd)
}
