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

package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cf-sky/reactor/reactor"
)

// ConnectionsRes is the /connections response body.
type ConnectionsRes struct {
	Count       int      `json:"count"`
	Connections []string `json:"connections"`
}

// HandleConnections reports the live connection table of server.
func HandleConnections(server *reactor.TcpServer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if server == nil {
			c.JSON(http.StatusOK, ConnectionsRes{Connections: []string{}})
			return
		}
		names := server.Connections()
		c.JSON(http.StatusOK, ConnectionsRes{Count: len(names), Connections: names})
	}
}
