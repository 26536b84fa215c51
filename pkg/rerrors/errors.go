// Copyright (c) 2019 Andy Pan
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

package rerrors

import "errors"

var (
	// ErrLoopAlreadyExists occurs when an EventLoop is constructed on a thread
	// that already owns one.
	ErrLoopAlreadyExists = errors.New("an event loop already exists on this thread")
	// ErrNotInLoopThread occurs when a loop-affine method is invoked off its owning thread.
	ErrNotInLoopThread = errors.New("method must be called from the loop's own thread")
	// ErrEventLoopClosed occurs when posting work to a loop that has already quit.
	ErrEventLoopClosed = errors.New("event loop is closed")
	// ErrAcceptSocket occurs when the acceptor does not accept the new connection properly.
	ErrAcceptSocket = errors.New("accept a new connection error")
	// ErrUnsupportedAddressFamily occurs when an address is not IPv4.
	ErrUnsupportedAddressFamily = errors.New("only IPv4 addresses are supported")
	// ErrBufferNegativeSize occurs when trying to pass a negative size to a buffer.
	ErrBufferNegativeSize = errors.New("negative size is invalid")
	// ErrConnectionClosed occurs when operating on a connection that is no longer connected.
	ErrConnectionClosed = errors.New("connection is not connected")
)
