package diff

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name     string
		server   map[string]string
		client   map[string]string
		expected Result
	}{
		{
			name:     "empty client gets everything",
			server:   map[string]string{"a.mp3": "h1", "b.flac": "h2"},
			client:   map[string]string{},
			expected: Result{"a.mp3": "h1", "b.flac": "h2"},
		},
		{
			name:     "nil client gets everything",
			server:   map[string]string{"a.mp3": "h1"},
			client:   nil,
			expected: Result{"a.mp3": "h1"},
		},
		{
			name:     "missing entry",
			server:   map[string]string{"a.mp3": "h1", "b.flac": "h2"},
			client:   map[string]string{"a.mp3": "h1"},
			expected: Result{"b.flac": "h2"},
		},
		{
			name:     "stale entry",
			server:   map[string]string{"a.mp3": "h1", "b.flac": "h2"},
			client:   map[string]string{"a.mp3": "old", "b.flac": "h2"},
			expected: Result{"a.mp3": "h1"},
		},
		{
			name:     "client only paths are dropped",
			server:   map[string]string{"a.mp3": "h1"},
			client:   map[string]string{"a.mp3": "h1", "gone.ogg": "h9"},
			expected: Result{},
		},
		{
			name:     "empty client digest counts as missing",
			server:   map[string]string{"a.mp3": "h1"},
			client:   map[string]string{"a.mp3": ""},
			expected: Result{"a.mp3": "h1"},
		},
		{
			name:     "paths are case sensitive",
			server:   map[string]string{"Artist/A.mp3": "h1"},
			client:   map[string]string{"artist/a.mp3": "h1"},
			expected: Result{"Artist/A.mp3": "h1"},
		},
		{
			name:     "empty server",
			server:   map[string]string{},
			client:   map[string]string{"a.mp3": "h1"},
			expected: Result{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.server, tt.client)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestComputeIdentical(t *testing.T) {
	catalog := make(map[string]string)
	for i := range 500 {
		catalog[fmt.Sprintf("Artist_%d/Album/Track_%d.mp3", i%10, i)] = fmt.Sprintf("%064x", i)
	}

	assert.True(t, Compute(catalog, catalog).IsEmpty())
}

func TestComputeNeverIncludesUnknownPaths(t *testing.T) {
	server := map[string]string{"a": "1", "b": "2", "c": "3"}
	client := map[string]string{"b": "x", "d": "4", "e": "5"}

	got := Compute(server, client)
	for path, digest := range got {
		assert.Contains(t, server, path)
		assert.Equal(t, server[path], digest)
		assert.NotEqual(t, client[path], digest)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got.Paths())
}

func TestResultClone(t *testing.T) {
	r := Result{"a": "1"}
	c := r.Clone()
	c["b"] = "2"

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 2, c.Len())
	assert.NotNil(t, Result(nil).Clone())
}
