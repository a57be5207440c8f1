// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package debug

import (
	"net/http"
	"net/http/pprof"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ready atomic.Bool

	handlersMu sync.RWMutex
	handlers   = make(map[string]http.Handler)

	checksMu sync.RWMutex
	checks   []func() bool

	registry = newRegistry()
)

func newRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func SetReady() {
	ready.Store(true)
}

func SetNotReady() {
	ready.Store(false)
}

// AddReadyCheck adds a condition that must hold for /ready to report 200.
func AddReadyCheck(check func() bool) {
	checksMu.Lock()
	defer checksMu.Unlock()
	checks = append(checks, check)
}

func IsReady() bool {
	if !ready.Load() {
		return false
	}
	checksMu.RLock()
	defer checksMu.RUnlock()
	for _, check := range checks {
		if !check() {
			return false
		}
	}
	return true
}

// Registry is where the gateway registers its collectors. It is served on
// /metrics by GetMux.
func Registry() *prometheus.Registry {
	return registry
}

// RegisterHandlerFunc adds a handler to the debug mux. Must be called before
// GetMux.
func RegisterHandlerFunc(pattern string, handler http.HandlerFunc) {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	handlers[pattern] = handler
}

func GetMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	handlersMu.RLock()
	defer handlersMu.RUnlock()
	for pattern, h := range handlers {
		mux.Handle(pattern, h)
	}
	return mux
}
