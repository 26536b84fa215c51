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
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cf-sky/reactor/pkg/logging"
)

// TcpServer is the public façade: bind one Acceptor on a base loop, fan
// accepted connections out across an EventLoopThreadPool, and track every
// live TcpConnection so Close can tear them all down.
type TcpServer struct {
	loop     *EventLoop
	ipPort   string
	name     string

	acceptor   *Acceptor
	threadPool *EventLoopThreadPool

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	highWaterMark         int
	threadInitCallback    ThreadInitCallback
	stats                 *ServerStats

	mu          sync.Mutex
	connections map[string]*TcpConnection

	nextConnID int64
	started    int32 // atomic
}

// NewTcpServer constructs a server bound to listenAddr on loop (the base
// loop, typically running on the calling goroutine). opts configure the
// thread pool size, SO_REUSEPORT, and the high-water mark before Start is
// called.
func NewTcpServer(loop *EventLoop, listenAddr InetAddress, name string, opts ...Option) *TcpServer {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	s := &TcpServer{
		loop:          loop,
		ipPort:        listenAddr.ToIPPort(),
		name:          name,
		highWaterMark: options.HighWaterMark,
		nextConnID:    1,
	}
	s.acceptor = NewAcceptor(loop, listenAddr, options.ReusePort)
	s.acceptor.SetNewConnectionCallback(s.newConnection)
	s.stats = options.Stats
	if s.stats != nil {
		s.acceptor.SetRejectedCallback(func() {
			s.stats.ConnectionsRejected.WithLabelValues(s.name).Inc()
		})
	}
	s.threadPool = NewEventLoopThreadPool(loop, name, options.ThreadNum)
	s.threadInitCallback = options.ThreadInitCallback
	return s
}

func (s *TcpServer) SetConnectionCallback(cb ConnectionCallback)       { s.connectionCallback = cb }
func (s *TcpServer) SetMessageCallback(cb MessageCallback)             { s.messageCallback = cb }
func (s *TcpServer) SetWriteCompleteCallback(cb WriteCompleteCallback) { s.writeCompleteCallback = cb }
func (s *TcpServer) SetHighWaterMarkCallback(cb HighWaterMarkCallback) { s.highWaterMarkCallback = cb }

// Start is idempotent: only the first call spins up the thread pool and
// schedules Acceptor.Listen on the base loop; later calls are no-ops.
func (s *TcpServer) Start() {
	if atomic.AddInt32(&s.started, 1) == 1 {
		s.threadPool.Start(s.threadInitCallback)
		s.loop.RunInLoop(s.acceptor.Listen)
	}
}

func (s *TcpServer) newConnection(sockfd int, peerAddr InetAddress) {
	ioLoop := s.threadPool.GetNextLoop()

	connID := atomic.AddInt64(&s.nextConnID, 1) - 1
	connName := fmt.Sprintf("%s-%s#%d", s.name, s.ipPort, connID)

	logging.Infof("TcpServer[%s]: new connection [%s] from %s", s.name, connName, peerAddr)

	localAddr, err := getLocalAddr(sockfd)
	if err != nil {
		logging.Errorf("TcpServer[%s]: getsockname error: %v", s.name, err)
	}

	conn := NewTcpConnection(ioLoop, connName, sockfd, localAddr, peerAddr)
	hwmCallback := s.highWaterMarkCallback
	if s.stats != nil {
		trips := s.stats.HighWaterMarkTrips.WithLabelValues(s.name)
		userCallback := hwmCallback
		hwmCallback = func(c *TcpConnection, bytesQueued int) {
			trips.Inc()
			if userCallback != nil {
				userCallback(c, bytesQueued)
			}
		}
	}
	conn.SetHighWaterMarkCallback(hwmCallback, s.highWaterMark)

	s.mu.Lock()
	if s.connections == nil {
		s.connections = make(map[string]*TcpConnection)
	}
	s.connections[connName] = conn
	s.mu.Unlock()

	if s.stats != nil {
		s.stats.TotalConnections.WithLabelValues(s.name).Inc()
		s.stats.CurrConnections.WithLabelValues(s.name).Set(float64(s.ConnectionCount()))
	}

	conn.SetConnectionCallback(s.connectionCallback)
	conn.SetMessageCallback(s.messageCallback)
	conn.SetWriteCompleteCallback(s.writeCompleteCallback)
	conn.SetCloseCallback(s.removeConnection)

	ioLoop.RunInLoop(conn.ConnectEstablished)
}

func (s *TcpServer) removeConnection(conn *TcpConnection) {
	s.loop.RunInLoop(func() { s.removeConnectionInLoop(conn) })
}

func (s *TcpServer) removeConnectionInLoop(conn *TcpConnection) {
	logging.Infof("TcpServer[%s]: removeConnectionInLoop %s", s.name, conn.Name())

	s.mu.Lock()
	delete(s.connections, conn.Name())
	s.mu.Unlock()

	if s.stats != nil {
		s.stats.CurrConnections.WithLabelValues(s.name).Set(float64(s.ConnectionCount()))
	}

	conn.Loop().QueueInLoop(conn.ConnectDestroyed)
}

// Close sweeps every live connection, driving each one's teardown on its
// own loop and waiting for every teardown to finish, closes the listening
// socket, and finally stops every sub-loop thread the pool spun up.
// Mirrors ~TcpServer's destruction sweep.
func (s *TcpServer) Close() {
	s.mu.Lock()
	conns := make([]*TcpConnection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.connections = nil
	s.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(conns))
	for _, conn := range conns {
		c := conn
		c.Loop().RunInLoop(func() {
			c.ConnectDestroyed()
			wg.Done()
		})
	}
	wg.Wait()

	s.acceptor.Close()
	s.threadPool.Stop()
}

// Addr reports the address the server's listening socket is bound to,
// resolving any port-0 wildcard to the port the kernel actually chose.
func (s *TcpServer) Addr() (InetAddress, error) {
	return s.acceptor.Addr()
}

// ConnectionCount reports the number of tracked live connections.
func (s *TcpServer) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}

// Connections returns a snapshot of every tracked connection's name, used
// by the admin /connections endpoint.
func (s *TcpServer) Connections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.connections))
	for name := range s.connections {
		names = append(names, name)
	}
	return names
}
