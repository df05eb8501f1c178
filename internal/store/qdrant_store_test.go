package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQdrantDSN(t *testing.T) {
	host, port, apiKey, useTLS, err := parseQdrantDSN("https://my-cluster.example.com:6334?api_key=secret")
	require.NoError(t, err)
	assert.Equal(t, "my-cluster.example.com", host)
	assert.Equal(t, 6334, port)
	assert.Equal(t, "secret", apiKey)
	assert.True(t, useTLS)
}

func TestParseQdrantDSN_DefaultsPort(t *testing.T) {
	host, port, _, useTLS, err := parseQdrantDSN("localhost")
	require.NoError(t, err)
	assert.Equal(t, "localhost", host)
	assert.Equal(t, 6334, port)
	assert.False(t, useTLS)
}

func TestBuildFilter_NilWhenEmpty(t *testing.T) {
	assert.Nil(t, buildFilter(Filters{}))
}

func TestBuildFilter_SpeakerPredicate(t *testing.T) {
	speaker := "alice"
	f := buildFilter(Filters{SpeakerID: &speaker})
	require.NotNil(t, f)
	assert.Len(t, f.Must, 1)
}
