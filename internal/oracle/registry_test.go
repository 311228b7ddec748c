package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identities(actors []Actor) []string {
	out := make([]string, len(actors))
	for i, a := range actors {
		out[i] = a.Identity
	}
	return out
}

func TestRegistryResolve(t *testing.T) {
	r, err := NewRegistry(
		Actor{Identity: "a", Indexes: []uint8{0, 1, 2}, Status: StatusOnTime},
		Actor{Identity: "b", Indexes: []uint8{2, 3, 4}, Status: StatusLateAirline},
		Actor{Identity: "c", Indexes: []uint8{4, 5, 2}, Status: StatusLateOther},
	)
	require.NoError(t, err)

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"a", "b", "c"}, identities(r.Resolve(2)))
	assert.Equal(t, []string{"b", "c"}, identities(r.Resolve(4)))
	assert.Equal(t, []string{"a"}, identities(r.Resolve(0)))
	assert.Empty(t, r.Resolve(9))
}

func TestRegistryLookup(t *testing.T) {
	r, err := NewRegistry(Actor{Identity: "a", Indexes: []uint8{7}, Status: StatusLateWeather})
	require.NoError(t, err)

	a, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, StatusLateWeather, a.Status)
	assert.True(t, a.Holds(7))
	assert.False(t, a.Holds(8))

	_, ok = r.Lookup("nobody")
	assert.False(t, ok)
}

func TestRegistryRejectsBadActors(t *testing.T) {
	_, err := NewRegistry(Actor{Identity: ""})
	assert.Error(t, err)

	_, err = NewRegistry(Actor{Identity: "a"}, Actor{Identity: "a"})
	assert.ErrorContains(t, err, "duplicate")
}

func TestRegistryDuplicateIndexWithinActor(t *testing.T) {
	r, err := NewRegistry(Actor{Identity: "a", Indexes: []uint8{3, 3, 4}})
	require.NoError(t, err)
	assert.Len(t, r.Resolve(3), 1)
}

func TestRegistryCopiesInput(t *testing.T) {
	idx := []uint8{1, 2, 3}
	r, err := NewRegistry(Actor{Identity: "a", Indexes: idx})
	require.NoError(t, err)

	idx[0] = 9
	assert.Len(t, r.Resolve(1), 1)
	assert.Empty(t, r.Resolve(9))

	actors := r.Actors()
	actors[0].Identity = "mutated"
	_, ok := r.Lookup("a")
	assert.True(t, ok)
}

func TestNilRegistry(t *testing.T) {
	var r *Registry
	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.Actors())
	assert.Nil(t, r.Resolve(1))
	_, ok := r.Lookup("a")
	assert.False(t, ok)
}
