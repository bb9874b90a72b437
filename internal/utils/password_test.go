package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	h, err := HashPassword("s3cret", 4)
	require.NoError(t, err)
	assert.True(t, VerifyPassword(h, "s3cret"))
	assert.False(t, VerifyPassword(h, "wrong"))
}

func TestHashPasswordFallsBackOnBadCost(t *testing.T) {
	h, err := HashPassword("s3cret", 99)
	require.NoError(t, err, "out-of-range cost must not fail registration")
	assert.True(t, VerifyPassword(h, "s3cret"))
}
