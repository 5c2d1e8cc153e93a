package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthHeaderRoundtrip(t *testing.T) {
	pairs := []Credentials{
		{TokenID: "abc", Token: "def"},
		{TokenID: "q1w2e3r4t5y6u7i8", Token: strings.Repeat("z", NodeTokenLength)},
		{TokenID: "a", Token: "b"},
	}

	for _, p := range pairs {
		got, ok := ParseAuthHeader(BuildAuthHeader(p.TokenID, p.Token))
		require.True(t, ok)
		assert.Equal(t, p, got)
	}
}

func TestAuthHeaderRoundtripGenerated(t *testing.T) {
	for i := 0; i < 20; i++ {
		id, token, err := GenerateNodeToken()
		require.NoError(t, err)

		got, ok := ParseAuthHeader(BuildAuthHeader(id, token))
		require.True(t, ok)
		assert.Equal(t, id, got.TokenID)
		assert.Equal(t, token, got.Token)
	}
}

func TestParseAuthHeaderRejectsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"no bearer prefix", "abc.def"},
		{"basic scheme", "Basic abc.def"},
		{"lowercase bearer", "bearer abc.def"},
		{"no dot", "Bearer abcdef"},
		{"two dots", "Bearer abc.def.ghi"},
		{"empty token id", "Bearer .def"},
		{"empty token", "Bearer abc."},
		{"only dot", "Bearer ."},
		{"prefix only", "Bearer "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ParseAuthHeader(tt.header)
			assert.False(t, ok)
		})
	}
}

func TestConstantTimeEqual(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected bool
	}{
		{"identical", "secret-token", "secret-token", true},
		{"empty both", "", "", true},
		{"differs in last byte", "secret-token", "secret-tokem", false},
		{"shorter", "secret", "secret-token", false},
		{"longer", "secret-token-extra", "secret-token", false},
		{"empty vs non-empty", "", "x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ConstantTimeEqual(tt.a, tt.b))
		})
	}
}

func TestGenerateNodeToken(t *testing.T) {
	id, token, err := GenerateNodeToken()
	require.NoError(t, err)

	assert.Len(t, id, NodeTokenIDLength)
	assert.Len(t, token, NodeTokenLength)
	assert.NotContains(t, id, ".")
	assert.NotContains(t, token, ".")

	id2, token2, err := GenerateNodeToken()
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
	assert.NotEqual(t, token, token2)
}
