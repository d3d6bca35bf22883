package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIntentStatus(t *testing.T) {
	tests := []struct {
		name    string
		from    IntentStatus
		to      IntentStatus
		next    IntentStatus
		changed bool
		err     error
	}{
		{"pending to succeeded", IntentStatusPending, IntentStatusSucceeded, IntentStatusSucceeded, true, nil},
		{"pending to failed", IntentStatusPending, IntentStatusFailed, IntentStatusFailed, true, nil},
		{"pending to requires_action", IntentStatusPending, IntentStatusRequiresAction, IntentStatusRequiresAction, true, nil},
		{"pending on pending", IntentStatusPending, IntentStatusPending, IntentStatusPending, false, nil},
		{"requires_action to succeeded", IntentStatusRequiresAction, IntentStatusSucceeded, IntentStatusSucceeded, true, nil},
		{"requires_action to failed", IntentStatusRequiresAction, IntentStatusFailed, IntentStatusFailed, true, nil},
		{"requires_action back to pending", IntentStatusRequiresAction, IntentStatusPending, IntentStatusRequiresAction, false, nil},
		{"unknown target", IntentStatusPending, IntentStatus("refunded"), IntentStatusPending, false, ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, changed, err := NextIntentStatus(tt.from, tt.to)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.next, next)
			assert.Equal(t, tt.changed, changed)
		})
	}
}

func TestNextIntentStatus_TerminalNeverMoves(t *testing.T) {
	all := []IntentStatus{IntentStatusPending, IntentStatusRequiresAction, IntentStatusSucceeded, IntentStatusFailed}
	for _, from := range []IntentStatus{IntentStatusSucceeded, IntentStatusFailed} {
		for _, to := range all {
			next, changed, err := NextIntentStatus(from, to)
			require.ErrorIs(t, err, ErrAlreadyTerminal, "%s -> %s", from, to)
			assert.False(t, changed)
			assert.Equal(t, from, next)
		}
	}
}

func TestProviderError_MatchesNetworkSentinel(t *testing.T) {
	err := error(&ProviderError{Provider: "stripe", Operation: "initiate", StatusCode: 503, Message: "unavailable"})
	assert.True(t, errors.Is(err, ErrProviderNetwork))

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 503, pe.StatusCode)
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, ProcessingProcessed.Final())
	assert.True(t, ProcessingIgnored.Final())
	assert.False(t, ProcessingFailed.Final())
	assert.False(t, ProcessingPending.Final())

	assert.True(t, RefundStatusPending.Counts())
	assert.True(t, RefundStatusApproved.Counts())
	assert.False(t, RefundStatusRejected.Counts())
	assert.False(t, RefundStatusFailed.Counts())
}
