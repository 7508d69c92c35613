package sentinelerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorsWrapUnderlyingCause(t *testing.T) {
	cause := errors.New("boom")

	cases := []error{
		NewConfigError("storeDsn", cause),
		NewStoreError("append_decision", cause),
		NewProviderError("whale", cause),
		NewDeadlineError("fetch_price", "5s", cause),
		NewPolicyError("duplicate_goal_ids", cause),
	}

	for _, err := range cases {
		require.ErrorIs(t, err, cause, "%T must wrap its cause so errors.Is finds it", err)
		require.NotEmpty(t, err.Error())
	}
}

func TestCancelledErrorHasNoCause(t *testing.T) {
	err := NewCancelledError("AssessState")
	require.Equal(t, "AssessState cancelled", err.Error())
}

func TestConfigErrorMessageNamesField(t *testing.T) {
	err := NewConfigError("NEWS_API_KEY", errors.New("missing"))
	require.Contains(t, err.Error(), "NEWS_API_KEY")
	require.Contains(t, err.Error(), "missing")
}
