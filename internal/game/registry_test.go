package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry("normal")
	r.Register(newTestDealer(t, normalRules(), 1))

	d, ok := r.Get("normal")
	require.True(t, ok)
	assert.Equal(t, "normal", d.Rules().Difficulty)

	d, ok = r.Get("")
	require.True(t, ok, "empty key resolves to the fallback")
	assert.Equal(t, "normal", d.Rules().Difficulty)

	_, ok = r.Get("nonexistent")
	assert.False(t, ok)
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry("normal")
	r.Register(newTestDealer(t, normalRules(), 1))

	key, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "normal", key)

	_, err = r.Resolve("nightmare")
	assert.ErrorIs(t, err, ErrUnknownDifficulty)
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry("normal")
	hard := Rules{Difficulty: "hard", Primes: []int{2, 3, 5}, Complexity: Range{Min: 6, Max: 8}}
	r.Register(newTestDealer(t, normalRules(), 1))
	r.Register(newTestDealer(t, hard, 2))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "hard", list[0].Difficulty)
	assert.Equal(t, "normal", list[1].Difficulty)
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry("normal")
	r.Register(newTestDealer(t, normalRules(), 1))
	assert.Panics(t, func() { r.Register(newTestDealer(t, normalRules(), 2)) })
}
