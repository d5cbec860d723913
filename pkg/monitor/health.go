// Copyright 2024 The shelf-go Authors
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

// Package monitor provides health checking for shelfd: registered checks,
// runtime figures, and the HTTP probes that expose them.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// Check is a single health probe.
type Check func(ctx context.Context) error

type registeredCheck struct {
	check    Check
	critical bool
}

// HealthChecker runs registered checks. A failing critical check makes the
// whole process unhealthy.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]registeredCheck
	healthy bool
	started time.Time
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status     string                 `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Uptime     int64                  `json:"uptime"`
	Version    string                 `json:"version"`
	Checks     map[string]CheckResult `json:"checks"`
	SystemInfo SystemInfo             `json:"system_info"`
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Critical bool   `json:"critical"`
}

// SystemInfo contains runtime figures.
type SystemInfo struct {
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
}

var version = "dev"

// SetVersion sets the version reported by the health endpoint.
func SetVersion(v string) {
	version = v
}

// NewHealthChecker creates a checker with a non-critical goroutine check.
func NewHealthChecker() *HealthChecker {
	hc := &HealthChecker{
		checks:  make(map[string]registeredCheck),
		healthy: true,
		started: time.Now(),
	}
	hc.RegisterCheck("goroutines", func(context.Context) error {
		if count := runtime.NumGoroutine(); count > 10000 {
			return fmt.Errorf("high goroutine count: %d", count)
		}
		return nil
	}, false)
	return hc
}

// RegisterCheck adds or replaces a named check.
func (hc *HealthChecker) RegisterCheck(name string, check Check, critical bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = registeredCheck{check: check, critical: critical}
}

// RunChecks executes every registered check.
func (hc *HealthChecker) RunChecks(ctx context.Context) HealthStatus {
	hc.mu.RLock()
	checks := make(map[string]registeredCheck, len(hc.checks))
	for name, c := range hc.checks {
		checks[name] = c
	}
	hc.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	healthy := true
	for name, c := range checks {
		res := CheckResult{Status: "passed", Critical: c.critical}
		if err := c.check(ctx); err != nil {
			res.Status = "failed"
			res.Message = err.Error()
			if c.critical {
				healthy = false
			}
		}
		results[name] = res
	}

	hc.mu.Lock()
	hc.healthy = healthy
	hc.mu.Unlock()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    int64(time.Since(hc.started).Seconds()),
		Version:   version,
		Checks:    results,
		SystemInfo: SystemInfo{
			Goroutines: runtime.NumGoroutine(),
			HeapAlloc:  m.HeapAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
			GoVersion:  runtime.Version(),
		},
	}
}

// IsHealthy reports the outcome of the last RunChecks.
func (hc *HealthChecker) IsHealthy() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.healthy
}

// HealthServer provides HTTP endpoints for health checking
type HealthServer struct {
	checker *HealthChecker
}

// NewHealthServer creates a new health server instance
func NewHealthServer(checker *HealthChecker) *HealthServer {
	return &HealthServer{checker: checker}
}

// RegisterRoutes registers health check routes
func (hs *HealthServer) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", hs.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/healthz/live", hs.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/healthz/ready", hs.handleReadiness).Methods(http.MethodGet)
}

func (hs *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := hs.checker.RunChecks(r.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (hs *HealthServer) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (hs *HealthServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if hs.checker.RunChecks(r.Context()).Status == "healthy" {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("Service Unavailable"))
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}
