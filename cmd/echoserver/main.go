// Copyright (c) 2022 The reactor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License"): you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations
// under the License.

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cf-sky/reactor/config"
	"github.com/cf-sky/reactor/ipfilter"
	"github.com/cf-sky/reactor/pkg/logging"
	"github.com/cf-sky/reactor/reactor"
	"github.com/cf-sky/reactor/web"
)

var (
	configPath      = flag.String("p", "conf", "Config file path")
	basicConfigFile = flag.String("c", "reactor.yaml", "Basic config filename")
	ipListConfigFile = flag.String("a", "ipfilter.yaml", "IP allow-list config filename")
	showVersion     = flag.Bool("v", false, "Show version")
	help            = flag.Bool("h", false, "Show usage info")
)

var (
	CommitSHA string
	Tag       string
	BuildTime string
)

func init() {
	if len(Tag) < 1 {
		Tag = "unknown"
	}
	if len(CommitSHA) < 1 {
		CommitSHA = "unknown"
	}
	if len(BuildTime) < 1 {
		BuildTime = "unknown"
	}
}

const banner string = `
________________________________________________
___  __ \___  ____ _______ __________ ___________
__  /_/ /  _ \/ _  / ___/ __/ __  __ \/ ___/ ___/
_  _, _/  __/ /_/ / /__/ /_/ /_/ / /_/ / /   (__  )
/_/ |_|\___/\__,_/\___/\__/\__,_/\____/_/   /____/

`

func parseCli() {
	flag.Parse()
	if *showVersion {
		fmt.Printf("version: %s\ncommit: %s\ntime: %s\n", Tag, CommitSHA, BuildTime)
		os.Exit(0)
	}
	if *help {
		flag.Usage()
		os.Exit(0)
	}
}

func main() {
	parseCli()

	cfg, err := config.LoadConfig(path.Join(*configPath, *basicConfigFile))
	if err != nil {
		logging.Errorf("parse config file err: %v", err)
		return
	}

	if err = logging.InitializeLogger(
		logging.WithPath(cfg.LogPath),
		logging.WithExpireDay(cfg.LogExpireDay),
		logging.WithLogLevel(cfg.LogLevel),
	); err != nil {
		logging.Errorf("failed to initialize logger, err: %s", err)
		return
	}

	fmt.Print(banner)
	fmt.Printf("reactor echoserver version: %s\n", Tag)
	fmt.Printf("reactor echoserver started with port: %d, pid: %d\n", cfg.Port, syscall.Getpid())
	logging.Infof("reactor echoserver started with port: %d, pid: %d, version: %s", cfg.Port, syscall.Getpid(), Tag)

	if cfg.IPAllowListDir != "" {
		ipListFile := cfg.IPAllowListFile
		if ipListFile == "" {
			ipListFile = *ipListConfigFile
		}
		if err := ipfilter.Start(cfg.IPAllowListDir, ipListFile); err != nil {
			logging.Errorf("failed to start ip allow-list watcher, err: %s", err)
			return
		}
	}

	stats := reactor.NewServerStats("reactor")

	runtime.LockOSThread()
	baseLoop := reactor.NewEventLoop()

	listenAddr, err := reactor.NewInetAddress("0.0.0.0", uint16(cfg.Port))
	if err != nil {
		logging.Errorf("invalid listen address: %s", err)
		return
	}

	server := reactor.NewTcpServer(baseLoop, listenAddr, "echoserver",
		reactor.WithReusePort(cfg.ReusePort),
		reactor.WithThreadNum(cfg.ThreadNum),
		reactor.WithHighWaterMark(cfg.HighWaterMark),
		reactor.WithStats(stats),
	)
	server.SetConnectionCallback(func(conn *reactor.TcpConnection) {
		if conn.Connected() {
			logging.Infof("echoserver: connection up %s from %s", conn.Name(), conn.PeerAddr())
		} else {
			logging.Infof("echoserver: connection down %s", conn.Name())
		}
	})
	server.SetMessageCallback(func(conn *reactor.TcpConnection, buf *reactor.Buffer, receiveTime time.Time) {
		conn.Send([]byte(buf.RetrieveAllAsString()))
	})
	server.SetHighWaterMarkCallback(func(conn *reactor.TcpConnection, bytesQueued int) {
		logging.Warnf("echoserver: %s crossed high water mark, %d bytes queued", conn.Name(), bytesQueued)
	})

	if cfg.WebPort > 0 {
		addr := fmt.Sprintf(":%d", cfg.WebPort)
		gin.SetMode(gin.ReleaseMode)
		ginSrv := gin.New()
		web.Tag, web.CommitSHA, web.BuildTime = Tag, CommitSHA, BuildTime
		web.Init(ginSrv, server)
		httpSrv := &http.Server{Handler: ginSrv, Addr: addr}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Errorf("failed to start admin http server, err: %s", err)
			}
		}()
	}

	server.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Infof("reactor echoserver received shutdown signal")
		server.Close()
		baseLoop.Quit()
	}()

	baseLoop.Loop()
	baseLoop.Close()

	logging.Infof("reactor echoserver shutdown, pid: %d, listen: %d", syscall.Getpid(), cfg.Port)
}
