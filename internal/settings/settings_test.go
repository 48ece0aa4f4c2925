package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexbridge/plexbridge/internal/models"
)

func TestSettingsGet(t *testing.T) {
	tree := Settings{
		"network": map[string]any{
			"streamingPort": float64(8080),
			"nested":        map[string]any{"deep": "value"},
		},
	}

	port, ok := tree.Get("network.streamingPort")
	require.True(t, ok)
	assert.Equal(t, float64(8080), port)

	deep, ok := tree.Get("network.nested.deep")
	require.True(t, ok)
	assert.Equal(t, "value", deep)

	_, ok = tree.Get("network.missing")
	assert.False(t, ok)

	// Descending through a scalar is a miss, not a panic.
	_, ok = tree.Get("network.streamingPort.extra")
	assert.False(t, ok)
}

func TestSettingsSetCreatesBranches(t *testing.T) {
	tree := Settings{}
	tree.set("a.b.c", 1)

	got, ok := tree.Get("a.b.c")
	require.True(t, ok)
	assert.Equal(t, 1, got)

	// Setting through an existing scalar replaces it with a branch.
	tree.set("a.b.c.d", 2)
	got, ok = tree.Get("a.b.c.d")
	require.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestCloneIsDeep(t *testing.T) {
	tree := Defaults()
	clone := tree.Clone()

	clone.set("device.tunerCount", float64(99))

	original, _ := tree.Get("device.tunerCount")
	assert.Equal(t, float64(4), original, "mutating the clone must not touch the original")
}

func TestFlattenRoundTrip(t *testing.T) {
	flat := Flatten(map[string]any{
		"streaming": map[string]any{
			"maxConcurrentStreams": 5,
			"adaptiveBuffering": map[string]any{
				"enabled": true,
			},
		},
		"top": "level",
	})

	assert.Equal(t, map[string]any{
		"streaming.maxConcurrentStreams":      5,
		"streaming.adaptiveBuffering.enabled": true,
		"top":                                 "level",
	}, flat)
}

func TestOverlaySecondPassPriority(t *testing.T) {
	tree := Defaults()

	plain := models.EncodeSetting("streaming.bufferSize", 1024)
	prefixed := models.EncodeSetting("plexlive.streaming.bufferSize", 2048)

	// Prefixed row appears first in the slice; order must not matter.
	overlay(tree, []*models.Setting{&prefixed, &plain})

	got, _ := tree.Get("streaming.bufferSize")
	assert.Equal(t, float64(2048), got)
}

func TestDefaultsCoverValidationPaths(t *testing.T) {
	tree := Defaults()
	for path := range intRanges {
		_, ok := tree.Get(path)
		assert.True(t, ok, "default missing for validated path %s", path)
	}
}

func TestValidateJSONNumbers(t *testing.T) {
	// Numbers arriving through JSON decode as float64.
	assert.NoError(t, validate("device.tunerCount", float64(4)))
	assert.Error(t, validate("device.tunerCount", 4.5))
	assert.Error(t, validate("device.tunerCount", "four"))
}
