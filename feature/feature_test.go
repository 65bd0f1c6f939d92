package feature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gobus/berrors"
)

func TestParseValidNames(t *testing.T) {
	set, err := Parse([]string{"RPCS", "TASKS"})
	require.NoError(t, err)
	assert.True(t, set.Has(RPCS))
	assert.True(t, set.Has(TASKS))
	assert.False(t, set.Has(EVENTS))
}

func TestParseUnknownName(t *testing.T) {
	_, err := Parse([]string{"BOGUS"})
	var unsupported *berrors.UnsupportedUse
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "BOGUS", unsupported.Value)
	assert.Equal(t, All(), unsupported.Allowed)
}

func TestAllFeaturesHasEverything(t *testing.T) {
	set := AllFeatures()
	assert.True(t, set.Has(RPCS))
	assert.True(t, set.Has(EVENTS))
	assert.True(t, set.Has(TASKS))
	assert.Empty(t, set.Disabled())
}

func TestRemoveDoesNotMutateReceiver(t *testing.T) {
	set := AllFeatures()
	smaller := set.Remove(RPCS)

	assert.False(t, smaller.Has(RPCS))
	assert.True(t, set.Has(RPCS), "Remove must not mutate the original set")
}

func TestNamesAndDisabledAreSorted(t *testing.T) {
	set := Set{TASKS: {}, EVENTS: {}}
	assert.Equal(t, []string{"EVENTS", "TASKS"}, set.Names())
	assert.Equal(t, []string{"RPCS"}, set.Disabled())
}
