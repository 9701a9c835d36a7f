// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ratelimit throttles the ingest surface: a global cap, a
// per-device cap (one physical sensor should never be able to starve the
// tick loop), and a per-device-type cap (heart_rate frames arrive far more
// often than power/cadence frames in practice).
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var rateLimitExceeded = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fitcore",
		Name:      "ratelimit_exceeded_total",
		Help:      "Total ingest requests rejected by the rate limiter.",
	},
	[]string{"limit_type", "device_type"},
)

// Config holds ingest rate limiting configuration.
type Config struct {
	GlobalRate  rate.Limit
	GlobalBurst int

	PerDeviceRate  rate.Limit
	PerDeviceBurst int

	TypeRates map[string]rate.Limit
	TypeBurst map[string]int

	CleanupInterval time.Duration
}

// DefaultConfig returns sensible ingest defaults.
func DefaultConfig() Config {
	return Config{
		GlobalRate:  200,
		GlobalBurst: 400,

		PerDeviceRate:  5,
		PerDeviceBurst: 10,

		TypeRates: map[string]rate.Limit{
			"heart_rate": 5,
			"cadence":    5,
			"power":      5,
			"speed":      5,
		},
		TypeBurst: map[string]int{
			"heart_rate": 10,
			"cadence":    10,
			"power":      10,
			"speed":      10,
		},

		CleanupInterval: 5 * time.Minute,
	}
}

// Limiter throttles sensor frame ingestion.
type Limiter struct {
	config Config

	global    *rate.Limiter
	perDevice map[string]*rate.Limiter
	perType   map[string]*rate.Limiter
	mu        sync.RWMutex

	lastCleanup time.Time
}

// New creates a rate limiter with the given config.
func New(config Config) *Limiter {
	l := &Limiter{
		config:      config,
		global:      rate.NewLimiter(config.GlobalRate, config.GlobalBurst),
		perDevice:   make(map[string]*rate.Limiter),
		perType:     make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
	for typ, r := range config.TypeRates {
		l.perType[typ] = rate.NewLimiter(r, config.TypeBurst[typ])
	}
	return l
}

// Allow checks whether a frame from deviceID (of deviceType) passes the
// global, per-type, and per-device limits, in that order.
func (l *Limiter) Allow(deviceID, deviceType string) bool {
	if !l.global.Allow() {
		rateLimitExceeded.WithLabelValues("global", deviceType).Inc()
		return false
	}

	l.mu.RLock()
	typeLimiter, exists := l.perType[deviceType]
	l.mu.RUnlock()
	if exists && !typeLimiter.Allow() {
		rateLimitExceeded.WithLabelValues("per_type", deviceType).Inc()
		return false
	}

	l.maybeCleanup()

	deviceLimiter := l.getDeviceLimiter(deviceID)
	if !deviceLimiter.Allow() {
		rateLimitExceeded.WithLabelValues("per_device", deviceType).Inc()
		return false
	}

	return true
}

func (l *Limiter) getDeviceLimiter(deviceID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.perDevice[deviceID]
	if !exists {
		limiter = rate.NewLimiter(l.config.PerDeviceRate, l.config.PerDeviceBurst)
		l.perDevice[deviceID] = limiter
	}
	return limiter
}

// maybeCleanup drops all per-device limiters once CleanupInterval has
// elapsed, trading a one-off burst allowance for bounded memory.
func (l *Limiter) maybeCleanup() {
	if time.Since(l.lastCleanup) < l.config.CleanupInterval {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perDevice = make(map[string]*rate.Limiter)
	l.lastCleanup = time.Now()
}

// GetClientIP extracts the real client IP from an ingest HTTP request,
// honoring X-Forwarded-For / X-Real-IP ahead of RemoteAddr.
func GetClientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		if idx := indexComma(xff); idx > 0 {
			xff = xff[:idx]
		}
		xff = trimSpace(xff)
		if xff != "" {
			return xff
		}
	}

	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func indexComma(s string) int {
	for i, c := range s {
		if c == ',' {
			return i
		}
	}
	return -1
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && s[start] == ' ' {
		start++
	}
	for end > start && s[end-1] == ' ' {
		end--
	}
	return s[start:end]
}
