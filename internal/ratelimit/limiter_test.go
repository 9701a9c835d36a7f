// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestRateLimiterGlobal(t *testing.T) {
	config := Config{
		GlobalRate:      10,
		GlobalBurst:     20,
		PerDeviceRate:   100,
		PerDeviceBurst:  200,
		TypeRates:       map[string]rate.Limit{"heart_rate": 100},
		TypeBurst:       map[string]int{"heart_rate": 200},
		CleanupInterval: 1 * time.Minute,
	}
	limiter := New(config)

	allowed := 0
	for i := 0; i < 25; i++ {
		if limiter.Allow("hr1", "heart_rate") {
			allowed++
		}
	}

	if allowed < 19 || allowed > 21 {
		t.Errorf("expected ~20 requests to pass with burst=20, got %d", allowed)
	}
}

func TestRateLimiterPerType(t *testing.T) {
	config := Config{
		GlobalRate:     100,
		GlobalBurst:    200,
		PerDeviceRate:  100,
		PerDeviceBurst: 200,
		TypeRates: map[string]rate.Limit{
			"power": 5,
		},
		TypeBurst: map[string]int{
			"power": 10,
		},
		CleanupInterval: 1 * time.Minute,
	}
	limiter := New(config)

	allowed := 0
	for i := 0; i < 20; i++ {
		if limiter.Allow("bike1", "power") {
			allowed++
		}
	}

	if allowed < 9 || allowed > 11 {
		t.Errorf("expected ~10 power-type requests to pass with burst=10, got %d", allowed)
	}
}

func TestRateLimiterPerDevice(t *testing.T) {
	config := Config{
		GlobalRate:      100,
		GlobalBurst:     200,
		PerDeviceRate:   5,
		PerDeviceBurst:  10,
		TypeRates:       map[string]rate.Limit{"heart_rate": 100},
		TypeBurst:       map[string]int{"heart_rate": 200},
		CleanupInterval: 1 * time.Minute,
	}
	limiter := New(config)

	allowed := 0
	for i := 0; i < 20; i++ {
		if limiter.Allow("hr1", "heart_rate") {
			allowed++
		}
	}
	if allowed < 9 || allowed > 11 {
		t.Errorf("expected ~10 per-device requests to pass with burst=10, got %d", allowed)
	}

	allowed2 := 0
	for i := 0; i < 20; i++ {
		if limiter.Allow("hr2", "heart_rate") {
			allowed2++
		}
	}
	if allowed2 < 9 || allowed2 > 11 {
		t.Errorf("expected ~10 requests for second device, got %d", allowed2)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{
			name:       "X-Forwarded-For single IP",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1"},
			remoteAddr: "192.168.1.1:12345",
			want:       "203.0.113.1",
		},
		{
			name:       "X-Forwarded-For multiple IPs",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1, 192.168.1.1, 10.0.0.1"},
			remoteAddr: "127.0.0.1:12345",
			want:       "203.0.113.1",
		},
		{
			name:       "X-Real-IP",
			headers:    map[string]string{"X-Real-IP": "203.0.113.2"},
			remoteAddr: "192.168.1.1:12345",
			want:       "203.0.113.2",
		},
		{
			name:       "Fallback to RemoteAddr",
			headers:    map[string]string{},
			remoteAddr: "192.168.1.100:54321",
			want:       "192.168.1.100",
		},
		{
			name:       "X-Forwarded-For with spaces",
			headers:    map[string]string{"X-Forwarded-For": "  203.0.113.5  "},
			remoteAddr: "192.168.1.1:12345",
			want:       "203.0.113.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			req.RemoteAddr = tt.remoteAddr

			got := GetClientIP(req)
			if got != tt.want {
				t.Errorf("GetClientIP() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	config := Config{
		GlobalRate:      100,
		GlobalBurst:     200,
		PerDeviceRate:   10,
		PerDeviceBurst:  20,
		TypeRates:       map[string]rate.Limit{"heart_rate": 100},
		TypeBurst:       map[string]int{"heart_rate": 200},
		CleanupInterval: 100 * time.Millisecond,
	}
	limiter := New(config)

	for i := 0; i < 10; i++ {
		id := "hr" + string(rune(100+i))
		limiter.Allow(id, "heart_rate")
	}

	limiter.mu.RLock()
	countBefore := len(limiter.perDevice)
	limiter.mu.RUnlock()

	if countBefore != 10 {
		t.Errorf("expected 10 device limiters, got %d", countBefore)
	}

	time.Sleep(150 * time.Millisecond)
	limiter.Allow("hr200", "heart_rate")

	limiter.mu.RLock()
	countAfter := len(limiter.perDevice)
	limiter.mu.RUnlock()

	if countAfter != 1 {
		t.Errorf("expected 1 device limiter after cleanup (new request), got %d", countAfter)
	}
}

func BenchmarkRateLimiterAllow(b *testing.B) {
	config := DefaultConfig()
	limiter := New(config)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.Allow("hr1", "heart_rate")
	}
}

func BenchmarkGetClientIP(b *testing.B) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.1, 192.168.1.1")
	req.RemoteAddr = "192.168.1.100:54321"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		GetClientIP(req)
	}
}
