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

// Option configures a TcpServer at construction time.
type Option func(opts *Options)

func defaultOptions() *Options {
	return &Options{
		ReusePort:     true,
		ThreadNum:     0,
		HighWaterMark: defaultHighWaterMark,
	}
}

// Options are the tunables a TcpServer reads at construction time.
type Options struct {
	// ReusePort sets SO_REUSEPORT on the listening socket.
	ReusePort bool

	// ThreadNum is the number of sub-loops in the EventLoopThreadPool. 0
	// means every connection runs on the base loop.
	ThreadNum int

	// HighWaterMark is the output-buffer size, in bytes, past which
	// HighWaterMarkCallback fires.
	HighWaterMark int

	// ThreadInitCallback runs once on each sub-loop's own goroutine right
	// after it is constructed.
	ThreadInitCallback ThreadInitCallback

	// Stats, if non-nil, receives connection and high-water-mark counters.
	Stats *ServerStats
}

// WithReusePort toggles SO_REUSEPORT on the listening socket.
func WithReusePort(reuse bool) Option {
	return func(opts *Options) {
		opts.ReusePort = reuse
	}
}

// WithThreadNum sets the number of sub-loops in the server's thread pool.
func WithThreadNum(n int) Option {
	return func(opts *Options) {
		opts.ThreadNum = n
	}
}

// WithHighWaterMark sets the output-buffer high-water mark, in bytes.
func WithHighWaterMark(bytes int) Option {
	return func(opts *Options) {
		opts.HighWaterMark = bytes
	}
}

// WithThreadInitCallback installs a hook that runs once on each sub-loop's
// own goroutine right after it is constructed.
func WithThreadInitCallback(cb ThreadInitCallback) Option {
	return func(opts *Options) {
		opts.ThreadInitCallback = cb
	}
}

// WithStats wires a ServerStats collector into the server's connection and
// high-water-mark lifecycle.
func WithStats(stats *ServerStats) Option {
	return func(opts *Options) {
		opts.Stats = stats
	}
}
