package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/cuongbtq/automation-worker/internal/api/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobCursor(t *testing.T) {
	cursor := &storage.JobCursor{
		CreatedAt: time.Date(2024, 3, 1, 4, 30, 0, 123, time.UTC),
		JobID:     "tick-202403010430-0",
	}

	decoded, err := DecodeJobCursor(EncodeJobCursor(cursor))
	require.NoError(t, err)
	assert.True(t, cursor.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, cursor.JobID, decoded.JobID)
}

func TestDecodeJobCursor_Invalid(t *testing.T) {
	empty, err := DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)

	for _, raw := range []string{"no-separator", "abc|job", "123|"} {
		_, err := DecodeJobCursor(base64.RawURLEncoding.EncodeToString([]byte(raw)))
		assert.Error(t, err, raw)
	}

	_, err = DecodeJobCursor("***")
	assert.Error(t, err)
}
