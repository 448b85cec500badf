package nostr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRelayURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"wss://Relay.Example.com/", "wss://relay.example.com"},
		{"  wss://relay.example.com  ", "wss://relay.example.com"},
		{"WSS://relay.example.com:443/inbox/", "wss://relay.example.com:443/inbox"},
		{"ws://localhost:7777", "ws://localhost:7777"},
		{"ws://[::1]:7777", "ws://[::1]:7777"},
		{"https://relay.example.com", ""},
		{"relay.example.com", ""},
		{"wss://https://relay.example.com", ""},
		{"wss://relay%20example.com", ""},
		{"wss://relay", ""},
		{"wss://hidden.onion", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRelayURL(tt.in))
		})
	}
}
