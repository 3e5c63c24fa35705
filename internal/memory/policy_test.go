package memory_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EZFRICA/context-engineering/internal/memory"
)

func TestPolicyByName(t *testing.T) {
	p, ok := memory.PolicyByName("user_controlled")
	require.True(t, ok)
	require.True(t, p.HasStaging)
	require.Empty(t, p.AutoTag)

	p, ok = memory.PolicyByName("hybrid")
	require.True(t, ok)
	require.False(t, p.HasStaging)
	require.Equal(t, "auto", p.AutoTag)

	_, ok = memory.PolicyByName("episodic")
	require.False(t, ok)
}

func TestPolicyCollections(t *testing.T) {
	p, _ := memory.PolicyByName("user_controlled")
	require.Equal(t, "user_controlled_bank", p.BankCollection())
	require.Equal(t, "user_controlled_inbox", p.InboxCollection())
}

func TestAllCollections(t *testing.T) {
	require.ElementsMatch(t, []string{
		"opaque_bank",
		"user_controlled_bank",
		"user_controlled_inbox",
		"hybrid_bank",
	}, memory.AllCollections())
}
