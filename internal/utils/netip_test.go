package utils

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		trustProxy bool
		header     string
		want       string
	}{
		{
			name:       "real ip header first",
			headers:    map[string]string{"CF-Connecting-IP": "203.0.113.7", "X-Forwarded-For": "198.51.100.1"},
			remoteAddr: "127.0.0.1:5555",
			trustProxy: true,
			want:       "203.0.113.7",
		},
		{
			name:       "custom header",
			headers:    map[string]string{"X-Client-IP": "203.0.113.9", "CF-Connecting-IP": "203.0.113.7"},
			remoteAddr: "127.0.0.1:5555",
			trustProxy: true,
			header:     "X-Client-IP",
			want:       "203.0.113.9",
		},
		{
			name:       "first forwarded hop",
			headers:    map[string]string{"X-Forwarded-For": " 198.51.100.1 , 10.0.0.1"},
			remoteAddr: "127.0.0.1:5555",
			trustProxy: true,
			want:       "198.51.100.1",
		},
		{
			name:       "socket address",
			remoteAddr: "192.0.2.10:40000",
			trustProxy: true,
			want:       "192.0.2.10",
		},
		{
			name:       "headers ignored without trust",
			headers:    map[string]string{"CF-Connecting-IP": "203.0.113.7", "X-Forwarded-For": "198.51.100.1"},
			remoteAddr: "192.0.2.10:40000",
			want:       "192.0.2.10",
		},
		{
			name:       "ipv6 socket",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r, tt.trustProxy, tt.header); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIPMatcher(t *testing.T) {
	m := NewIPMatcher([]string{"10.0.0.0/8", "192.0.2.10", " ", "garbage"})
	if m.IsEmpty() {
		t.Fatal("matcher should not be empty")
	}

	tests := []struct {
		ip   string
		want bool
	}{
		{"10.1.2.3", true},
		{"192.0.2.10", true},
		{"192.0.2.11", false},
		{"not-an-ip", false},
	}
	for _, tt := range tests {
		if got := m.Allow(tt.ip); got != tt.want {
			t.Errorf("Allow(%q) = %v, want %v", tt.ip, got, tt.want)
		}
	}

	if !NewIPMatcher(nil).IsEmpty() {
		t.Error("matcher from nil list should be empty")
	}
}
