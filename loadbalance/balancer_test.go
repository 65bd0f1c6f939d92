package loadbalance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gobus/registry"
)

func instances() []registry.ServiceInstance {
	return []registry.ServiceInstance{
		{Addr: "a:1", Weight: 1},
		{Addr: "b:1", Weight: 5},
		{Addr: "c:1", Weight: 10},
	}
}

func TestRoundRobinBalancerCyclesThroughInstances(t *testing.T) {
	b := &RoundRobinBalancer{}
	insts := instances()

	seen := map[string]int{}
	for i := 0; i < 9; i++ {
		picked, err := b.Pick(insts)
		require.NoError(t, err)
		seen[picked.Addr]++
	}
	assert.Equal(t, 3, seen["a:1"])
	assert.Equal(t, 3, seen["b:1"])
	assert.Equal(t, 3, seen["c:1"])
	assert.Equal(t, "RoundRobin", b.Name())
}

func TestRoundRobinBalancerRejectsEmpty(t *testing.T) {
	b := &RoundRobinBalancer{}
	_, err := b.Pick(nil)
	require.Error(t, err)
}

func TestWeightedRandomBalancerOnlyPicksFromInstances(t *testing.T) {
	b := &WeightedRandomBalancer{}
	insts := instances()
	valid := map[string]bool{"a:1": true, "b:1": true, "c:1": true}

	for i := 0; i < 50; i++ {
		picked, err := b.Pick(insts)
		require.NoError(t, err)
		assert.True(t, valid[picked.Addr])
	}
	assert.Equal(t, "WeightedRandom", b.Name())
}

func TestWeightedRandomBalancerRejectsEmpty(t *testing.T) {
	b := &WeightedRandomBalancer{}
	_, err := b.Pick(nil)
	require.Error(t, err)
}

func TestConsistentHashBalancerStableForSameKey(t *testing.T) {
	b := NewConsistentHashBalancer()
	insts := instances()
	for i := range insts {
		b.Add(&insts[i])
	}

	first, err := b.Pick("user-42")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := b.Pick("user-42")
		require.NoError(t, err)
		assert.Equal(t, first.Addr, again.Addr)
	}
	assert.Equal(t, "ConsistentHash", b.Name())
}

func TestConsistentHashBalancerDistributesAcrossRing(t *testing.T) {
	b := NewConsistentHashBalancer()
	insts := instances()
	for i := range insts {
		b.Add(&insts[i])
	}

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		picked, err := b.Pick(string(rune(i)) + "-key")
		require.NoError(t, err)
		seen[picked.Addr] = true
	}
	assert.True(t, len(seen) > 1)
}
