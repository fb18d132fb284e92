package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"int64", int64(-42), "-42"},
		{"int", 7, "7"},
		{"bool", true, "true"},
		{"empty array", []any{}, "[]"},
		{"string slice", []string{"b", "a"}, `["b","a"]`},
		{"sorted keys", map[string]any{"zebra": 1, "alpha": 2, "beta": 3}, `{"alpha":2,"beta":3,"zebra":1}`},
		{"nested", map[string]any{"z": map[string]any{"b": 1, "a": 2}, "a": []any{"x"}}, `{"a":["x"],"z":{"a":2,"b":1}}`},
		{"no html escaping", "<a&b>", `"<a&b>"`},
		{"nfc", "e\u0301", "\"\u00e9\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestMarshalCanonical_UTF16KeyOrder(t *testing.T) {
	// U+FF61 sorts before U+1F600 in UTF-8 byte order but after it in
	// UTF-16 code units (surrogate 0xD83D < 0xFF61).
	got, err := MarshalCanonical(map[string]any{"｡": 1, "\U0001F600": 2})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"｡\":1}", string(got))
}

func TestMarshalCanonical_Rejects(t *testing.T) {
	for _, v := range []any{nil, 1.5, struct{}{}, []any{nil}} {
		_, err := MarshalCanonical(v)
		assert.Error(t, err, "%#v", v)
	}
}
