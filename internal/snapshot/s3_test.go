package snapshot

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFullKey_NoPrefix(t *testing.T) {
	s := &S3Store{key: defaultKey}
	assert.Equal(t, "snapshot.jsonl", s.fullKey())
}

func TestFullKey_WithPrefix(t *testing.T) {
	s := &S3Store{key: defaultKey, prefix: "backups/recall"}
	assert.Equal(t, "backups/recall/snapshot.jsonl", s.fullKey())
}

func TestIsNotFoundError_MatchesMessage(t *testing.T) {
	assert.True(t, isNotFoundError(errors.New("operation error S3: GetObject, NoSuchKey")))
	assert.False(t, isNotFoundError(errors.New("operation error S3: GetObject, AccessDenied")))
}
