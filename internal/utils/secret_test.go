package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashSecret(t *testing.T) {
	hashed, err := HashSecret("correct-horse-battery")

	require.NoError(t, err)
	assert.NotEqual(t, "correct-horse-battery", hashed)
	assert.True(t, CheckSecret(hashed, "correct-horse-battery"))
	assert.False(t, CheckSecret(hashed, "wrong-horse-battery"))
}

func TestHashSecret_TooShort(t *testing.T) {
	_, err := HashSecret("short")

	assert.Error(t, err)
}
