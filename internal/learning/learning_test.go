package learning

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewClampsInitialRate(t *testing.T) {
	require.Equal(t, MinRate, New(0.0).Rate())
	require.Equal(t, MaxRate, New(10.0).Rate())
	require.Equal(t, 0.15, New(0.15).Rate())
}

func TestNudgeLearningRateIncreasesOnHighSuccess(t *testing.T) {
	s := New(0.1)
	rate := s.NudgeLearningRate(0.9)
	require.InDelta(t, 0.11, rate, 1e-9)
}

func TestNudgeLearningRateDecreasesOnLowSuccess(t *testing.T) {
	s := New(0.1)
	rate := s.NudgeLearningRate(0.3)
	require.InDelta(t, 0.09, rate, 1e-9)
}

func TestNudgeLearningRateUnchangedInMidRange(t *testing.T) {
	s := New(0.1)
	rate := s.NudgeLearningRate(0.65)
	require.Equal(t, 0.1, rate)
}

func TestNudgeLearningRateNeverExceedsMax(t *testing.T) {
	s := New(MaxRate)
	rate := s.NudgeLearningRate(0.95)
	require.Equal(t, MaxRate, rate)
}

func TestNudgeLearningRateNeverDropsBelowMin(t *testing.T) {
	s := New(MinRate)
	rate := s.NudgeLearningRate(0.1)
	require.Equal(t, MinRate, rate)
}

func TestAggregateSuccessRateWithNoRecordsIsZero(t *testing.T) {
	s := New(0.1)
	require.Zero(t, s.AggregateSuccessRate())
}

func TestRecordCycleOutcomeAccumulatesAcrossCalls(t *testing.T) {
	s := New(0.1)
	s.RecordCycleOutcome(8, 10)
	s.RecordCycleOutcome(1, 10)
	require.InDelta(t, 0.45, s.AggregateSuccessRate(), 1e-9)
}
