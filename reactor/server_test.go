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

package reactor

import (
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cf-sky/reactor/pkg/rerrors"
)

// testServer spins up a TcpServer on its own locked OS thread and returns
// it already listening, plus a stop func that tears the whole thing down.
func testServer(t *testing.T, configure func(*TcpServer)) (*TcpServer, string, func()) {
	t.Helper()

	loopCh := make(chan *EventLoop, 1)
	srvCh := make(chan *TcpServer, 1)
	done := make(chan struct{})

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		baseLoop := NewEventLoop()
		addr, err := NewInetAddress("127.0.0.1", 0)
		require.NoError(t, err)

		srv := NewTcpServer(baseLoop, addr, "test", WithThreadNum(1), WithReusePort(false))
		if configure != nil {
			configure(srv)
		}
		srv.Start()

		loopCh <- baseLoop
		srvCh <- srv
		baseLoop.Loop()
		baseLoop.Close()
		close(done)
	}()

	baseLoop := <-loopCh
	srv := <-srvCh

	var addr InetAddress
	var err error
	for i := 0; i < 100; i++ {
		addr, err = srv.Addr()
		if err == nil && addr.Port() != 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, err)
	require.NotZero(t, addr.Port())

	stop := func() {
		srv.Close()
		baseLoop.Quit()
		<-done
	}
	return srv, addr.ToIPPort(), stop
}

func Test_ServerEchoesBackWhatItReceives(t *testing.T) {
	_, listenAddr, stop := testServer(t, func(srv *TcpServer) {
		srv.SetMessageCallback(func(conn *TcpConnection, buf *Buffer, _ time.Time) {
			conn.Send([]byte(buf.RetrieveAllAsString()))
		})
	})
	defer stop()

	conn, err := net.DialTimeout("tcp", listenAddr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello reactor"))
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello reactor", string(buf[:n]))
}

func Test_ServerHandlesMultipleClientsIndependently(t *testing.T) {
	_, listenAddr, stop := testServer(t, func(srv *TcpServer) {
		srv.SetMessageCallback(func(conn *TcpConnection, buf *Buffer, _ time.Time) {
			conn.Send([]byte(buf.RetrieveAllAsString()))
		})
	})
	defer stop()

	const clients = 5
	var wg sync.WaitGroup
	wg.Add(clients)
	for i := 0; i < clients; i++ {
		go func(id int) {
			defer wg.Done()
			conn, err := net.DialTimeout("tcp", listenAddr, time.Second)
			require.NoError(t, err)
			defer conn.Close()

			msg := []byte{byte('a' + id)}
			_, err = conn.Write(msg)
			require.NoError(t, err)

			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			buf := make([]byte, 1)
			n, err := conn.Read(buf)
			require.NoError(t, err)
			assert.Equal(t, msg, buf[:n])
		}(i)
	}
	wg.Wait()
}

func Test_ServerConnectionCallbackSeesUpAndDown(t *testing.T) {
	var ups, downs int32
	_, listenAddr, stop := testServer(t, func(srv *TcpServer) {
		srv.SetConnectionCallback(func(conn *TcpConnection) {
			if conn.Connected() {
				atomic.AddInt32(&ups, 1)
			} else {
				atomic.AddInt32(&downs, 1)
			}
		})
	})
	defer stop()

	conn, err := net.DialTimeout("tcp", listenAddr, time.Second)
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&downs) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&ups))
}

func Test_ServerHighWaterMarkCallbackFires(t *testing.T) {
	tripped := make(chan int, 1)
	_, listenAddr, stop := testServer(t, func(srv *TcpServer) {
		srv.SetHighWaterMarkCallback(func(_ *TcpConnection, bytesQueued int) {
			select {
			case tripped <- bytesQueued:
			default:
			}
		})
		// Never read the input so the peer, which never drains its socket
		// buffer either, forces the server's output buffer to back up.
		srv.SetConnectionCallback(func(conn *TcpConnection) {
			if conn.Connected() {
				conn.Send(make([]byte, 2*defaultHighWaterMark))
			}
		})
	})
	defer stop()

	conn, err := net.DialTimeout("tcp", listenAddr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case n := <-tripped:
		assert.Greater(t, n, 0)
	case <-time.After(5 * time.Second):
		t.Fatal("high water mark callback never fired")
	}
}

func Test_ServerSendAfterPeerResetDoesNotPanic(t *testing.T) {
	_, listenAddr, stop := testServer(t, func(srv *TcpServer) {
		srv.SetMessageCallback(func(conn *TcpConnection, buf *Buffer, _ time.Time) {
			buf.RetrieveAll()
			conn.Send([]byte("pong"))
		})
	})
	defer stop()

	conn, err := net.DialTimeout("tcp", listenAddr, time.Second)
	require.NoError(t, err)

	tcpConn, ok := conn.(*net.TCPConn)
	require.True(t, ok)
	require.NoError(t, tcpConn.SetLinger(0))

	_, err = conn.Write([]byte("x"))
	require.NoError(t, err)
	conn.Close() // RST the connection instead of a clean FIN

	// Give the server a moment to observe the reset and attempt further
	// sends on later loop iterations; the assertion is simply that the
	// server keeps running afterward.
	time.Sleep(100 * time.Millisecond)

	conn2, err := net.DialTimeout("tcp", listenAddr, time.Second)
	require.NoError(t, err)
	defer conn2.Close()
	_, err = conn2.Write([]byte("still alive"))
	require.NoError(t, err)
}

func Test_ConnectionSendAfterCloseReturnsErrConnectionClosed(t *testing.T) {
	connCh := make(chan *TcpConnection, 1)
	downCh := make(chan struct{})
	_, listenAddr, stop := testServer(t, func(srv *TcpServer) {
		srv.SetConnectionCallback(func(conn *TcpConnection) {
			if conn.Connected() {
				connCh <- conn
			} else {
				close(downCh)
			}
		})
	})
	defer stop()

	conn, err := net.DialTimeout("tcp", listenAddr, time.Second)
	require.NoError(t, err)

	serverConn := <-connCh
	conn.Close()
	<-downCh

	assert.ErrorIs(t, serverConn.Send([]byte("x")), rerrors.ErrConnectionClosed)
	assert.ErrorIs(t, serverConn.Shutdown(), rerrors.ErrConnectionClosed)
}

func Test_ServerCloseTearsDownAllConnections(t *testing.T) {
	srv, listenAddr, stop := testServer(t, nil)

	conn, err := net.DialTimeout("tcp", listenAddr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return srv.ConnectionCount() == 1
	}, time.Second, 10*time.Millisecond)

	stop()

	buf := make([]byte, 1)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(buf)
	assert.Error(t, err) // closed by the server, EOF or reset
}
