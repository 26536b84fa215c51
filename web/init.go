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

// Package web is the admin HTTP surface exposed alongside the reactor TCP
// server: pprof, prometheus, version info, and a live connection listing.
package web

import (
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cf-sky/reactor/reactor"
)

// Init registers every admin route on ginSrv. server may be nil before the
// TcpServer is constructed; /connections then reports an empty list.
func Init(ginSrv *gin.Engine, server *reactor.TcpServer) {
	pprof.Register(ginSrv)
	ginSrv.GET("/connections", HandleConnections(server))
	ginSrv.GET("/version", HandleVersion)
	ginSrv.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
