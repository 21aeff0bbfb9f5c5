package typeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	params := map[string]any{
		"room":  "  kitchen ",
		"count": 3,
		"ratio": 0.5,
		"on":    true,
		"list":  []any{"a"},
	}

	tests := []struct {
		key  string
		want string
		ok   bool
	}{
		{"room", "kitchen", true},
		{"count", "3", true},
		{"ratio", "0.5", true},
		{"on", "true", true},
		{"list", "", false},
		{"missing", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := String(params, tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "default", StringOr(params, "missing", "default"))
	assert.Equal(t, "kitchen", StringOr(params, "room", "default"))
	assert.Equal(t, "x", StringOr(map[string]any{"room": "  "}, "room", "x"))
}

func TestNumbers(t *testing.T) {
	for _, v := range []any{7, int32(7), int64(7), float32(7.9), 7.9} {
		n, ok := Int(v)
		assert.True(t, ok)
		assert.Equal(t, 7, n)
	}
	_, ok := Int("7")
	assert.False(t, ok)

	f, ok := Float64(int64(2))
	assert.True(t, ok)
	assert.InDelta(t, 2.0, f, 1e-9)
	_, ok = Float64(nil)
	assert.False(t, ok)
}

func TestStrings(t *testing.T) {
	got, ok := Strings([]any{"milk", "eggs"})
	assert.True(t, ok)
	assert.Equal(t, []string{"milk", "eggs"}, got)

	_, ok = Strings([]any{"milk", 1})
	assert.False(t, ok)

	got, ok = Strings([]string{"a"})
	assert.True(t, ok)
	assert.Equal(t, []string{"a"}, got)
}

func TestLookup(t *testing.T) {
	data := map[string]any{
		"event": map[string]any{"id": "evt_1", "when": map[string]any{"day": "tomorrow"}},
		"title": "standup",
	}

	v, ok := Lookup(data, "event.when.day")
	assert.True(t, ok)
	assert.Equal(t, "tomorrow", v)

	v, ok = Lookup(data, "title")
	assert.True(t, ok)
	assert.Equal(t, "standup", v)

	_, ok = Lookup(data, "title.length")
	assert.False(t, ok)
	_, ok = Lookup(data, "event.missing")
	assert.False(t, ok)
	_, ok = Lookup(nil, "event")
	assert.False(t, ok)
	_, ok = Lookup(data, "")
	assert.False(t, ok)
}
