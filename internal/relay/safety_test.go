package relay

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRelayIPSafe(t *testing.T) {
	tests := []struct {
		ip   string
		safe bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"8.8.8.8", true},
		{"10.0.0.5", false},
		{"192.168.1.1", false},
		{"169.254.169.254", false},
		{"0.0.0.0", false},
		{"224.0.0.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.safe, isRelayIPSafe(net.ParseIP(tt.ip)))
		})
	}
	assert.False(t, isRelayIPSafe(nil))
}

func TestIsRelayURLSafe(t *testing.T) {
	assert.True(t, isRelayURLSafe("ws://127.0.0.1:7777"))
	assert.True(t, isRelayURLSafe("ws://localhost:7777"))
	assert.False(t, isRelayURLSafe("https://relay.example.com"))
	assert.False(t, isRelayURLSafe("wss://"))
	assert.False(t, isRelayURLSafe("wss://10.1.2.3"))
}
