package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestHashIP_Deterministic(t *testing.T) {
	t.Parallel()

	ip := "192.168.1.100"

	hash1 := hashIP(ip)
	hash2 := hashIP(ip)

	if hash1 != hash2 {
		t.Error("Same IP should produce same hash")
	}
}

func TestHashIP_Length(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ip   string
	}{
		{"IPv4", "192.168.1.1"},
		{"IPv4 localhost", "127.0.0.1"},
		{"IPv6 localhost", "::1"},
		{"IPv6 full", "2001:0db8:85a3:0000:0000:8a2e:0370:7334"},
		{"empty", ""},
	}

	for _, tt := range tests {

		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hash := hashIP(tt.ip)
			// hashIP uses first 8 bytes of SHA256, encoded as 16 hex chars
			if len(hash) != 16 {
				t.Errorf("hashIP(%q) length = %d, want 16", tt.ip, len(hash))
			}
		})
	}
}

func TestHashIP_Different(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ip1  string
		ip2  string
	}{
		{"different IPv4", "192.168.1.1", "192.168.1.2"},
		{"different last octet", "10.0.0.1", "10.0.0.2"},
		{"IPv4 vs IPv6", "127.0.0.1", "::1"},
		{"public vs private", "8.8.8.8", "192.168.1.1"},
	}

	for _, tt := range tests {

		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hash1 := hashIP(tt.ip1)
			hash2 := hashIP(tt.ip2)

			if hash1 == hash2 {
				t.Errorf("Different IPs should produce different hashes: %q and %q both produced %s", tt.ip1, tt.ip2, hash1)
			}
		})
	}
}

func TestCheckRateLimit_DisabledLimitsSkipRedis(t *testing.T) {
	t.Parallel()

	// A nil client would panic if Redis were touched.
	c := &Cache{}

	user, err := c.CheckUserRateLimit(context.Background(), "u1", 0, 5)
	if err != nil || !user.Allowed || user.Remaining != 5 {
		t.Errorf("user limit = %+v, %v", user, err)
	}

	ip, err := c.CheckIPRateLimit(context.Background(), "10.0.0.1", 0, 3)
	if err != nil || !ip.Allowed || ip.Remaining != 3 {
		t.Errorf("ip limit = %+v, %v", ip, err)
	}
}

func TestCheckRateLimit_FailsOpen(t *testing.T) {
	t.Parallel()

	// Nothing listens on port 1; the script call errors and the limiter allows.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	c := NewFromClient(client)

	res, err := c.CheckUserRateLimit(context.Background(), "u1", 60, 2)
	if err != nil {
		t.Fatalf("CheckUserRateLimit: %v", err)
	}
	if !res.Allowed {
		t.Error("limiter should fail open when Redis is unreachable")
	}
}

func TestGetIdentity_MissOnUnreachableRedis(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	c := NewFromClient(client)

	got, err := c.GetIdentity(context.Background(), "u1")
	if err != nil || got != nil {
		t.Errorf("GetIdentity = %+v, %v; want miss", got, err)
	}

	settings, err := c.GetSettings(context.Background())
	if err != nil || settings != nil {
		t.Errorf("GetSettings = %v, %v; want miss", settings, err)
	}
}
