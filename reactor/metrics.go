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

import "github.com/prometheus/client_golang/prometheus"

// ServerStats are the prometheus collectors a TcpServer updates as
// connections come and go: total/current connections, rejected-by-allow-list
// count, and high-water-mark trips.
type ServerStats struct {
	TotalConnections  *prometheus.CounterVec
	CurrConnections   *prometheus.GaugeVec
	ConnectionsRejected *prometheus.CounterVec
	HighWaterMarkTrips *prometheus.CounterVec
}

// NewServerStats builds and registers a ServerStats under namespace. Safe
// to call once per process; registering the same namespace twice panics
// via prometheus.MustRegister.
func NewServerStats(namespace string) *ServerStats {
	stats := &ServerStats{
		TotalConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "total_connections",
			Help:      "total accepted connections",
		}, []string{"server"}),
		CurrConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "curr_connections",
			Help:      "current live connections",
		}, []string{"server"}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected",
			Help:      "connections rejected by the ip allow list",
		}, []string{"server"}),
		HighWaterMarkTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "high_water_mark_trips",
			Help:      "times a connection's output buffer crossed the high-water mark",
		}, []string{"server"}),
	}
	prometheus.MustRegister(
		stats.TotalConnections, stats.CurrConnections,
		stats.ConnectionsRejected, stats.HighWaterMarkTrips,
	)
	return stats
}
