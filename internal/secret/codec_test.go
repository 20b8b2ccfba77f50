package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONPayload(t *testing.T) {
	got, ok := Extract(`{"voltage":220,"current":5.2,"auth_secret":"secret123"}`)
	require.True(t, ok)
	assert.Equal(t, "secret123", got)
}

func TestExtractKeyValuePayload(t *testing.T) {
	got, ok := Extract("voltage: 220, current: 5.5, auth_secret: secret456")
	require.True(t, ok)
	assert.Equal(t, "secret456", got)
}

func TestExtractAbsent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"json without secret", `{"voltage":220}`},
		{"key-value without secret", "voltage: 220, current: 5.5"},
		{"malformed json", `{"voltage":220,`},
		{"empty payload", ""},
		{"plain text", "hello world"},
		{"json secret not a string", `{"auth_secret":42}`},
		{"json empty secret", `{"auth_secret":""}`},
		{"key-value empty secret", "auth_secret: , voltage: 220"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(tt.payload)
			assert.False(t, ok)
			assert.Empty(t, got)
		})
	}
}

func TestExtractPrefersJSONLayout(t *testing.T) {
	// A JSON object that also happens to contain commas and colons
	// must be parsed as JSON, not as key-value text.
	got, ok := Extract(`{"auth_secret":"json-secret","note":"auth_secret: other"}`)
	require.True(t, ok)
	assert.Equal(t, "json-secret", got)
}

func TestGenerate(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	require.NotEmpty(t, a)

	b, err := Generate()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("secret123", "secret123"))
	assert.False(t, Equal("secret123", "secret124"))
	assert.False(t, Equal("secret123", ""))
	assert.False(t, Equal("secret123", "secret1234"))
}
