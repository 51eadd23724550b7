package backend

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEventStream(t *testing.T) {
	stream := ": connected\n\n" +
		"event: INSERT\ndata: {\"id\":1}\n\n" +
		": heartbeat\n\n" +
		"data: line one\ndata: line two\n\n" +
		"event: INSERT\ndata: {\"id\":2}\n\n"

	var got []RealtimeEvent
	err := readEventStream(strings.NewReader(stream), func(event RealtimeEvent) bool {
		got = append(got, event)
		return len(got) < 2
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "INSERT", got[0].Type)
	assert.JSONEq(t, `{"id":1}`, string(got[0].Data))
	assert.Equal(t, "message", got[1].Type)
	assert.Equal(t, "line one\nline two", string(got[1].Data))
}

func TestAPIErrorIs(t *testing.T) {
	err := &APIError{Status: 400, Message: "Invalid login credentials"}
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.NotErrorIs(t, err, ErrValidation)

	err = &APIError{Status: 400, Code: "validation_failed", Message: "title is required"}
	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)

	assert.ErrorIs(t, &APIError{Status: 404}, ErrNotFound)
	assert.ErrorIs(t, &APIError{Status: 429, Code: "over_request_rate_limit"}, ErrRateLimited)
}
