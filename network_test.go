package ipregistry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAllowedNetwork(t *testing.T) {
	tests := []struct {
		identity string
		want     bool
	}{
		{"0xaa36a7", true},
		{"0xAA36A7", true},
		{"  0xaa36a7 ", true},
		{"11155111", true},
		{"0x1", false},
		{"1", false},
		{"", false},
		{"   ", false},
		{"sepolia", false},
		{"0xzz", false},
	}

	for _, tt := range tests {
		t.Run(tt.identity, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAllowedNetwork(tt.identity))
		})
	}
}

func TestNetworkGuard_ConfiguredChain(t *testing.T) {
	guard := NewNetworkGuard(137, nil)

	assert.Equal(t, uint64(137), guard.ChainID())
	assert.Equal(t, "0x89", guard.HexID())
	assert.True(t, guard.IsAllowed("0x89"))
	assert.True(t, guard.IsAllowed("137"))
	assert.False(t, guard.IsAllowed("0xaa36a7"))
}

func TestNetworkGuard_Name(t *testing.T) {
	t.Run("resolver name", func(t *testing.T) {
		guard := NewNetworkGuard(DefaultChainID, testResolver)
		assert.Equal(t, "Sepolia", guard.Name())
	})

	t.Run("resolver failure falls back to id", func(t *testing.T) {
		guard := NewNetworkGuard(424242, func(uint64) (string, error) {
			return "", errors.New("unknown network")
		})
		assert.Equal(t, "chain 424242", guard.Name())
	})

	t.Run("no resolver", func(t *testing.T) {
		assert.Equal(t, "chain 5", NewNetworkGuard(5, nil).Name())
	})
}
