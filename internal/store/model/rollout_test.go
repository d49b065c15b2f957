package model

import (
	"testing"
	"time"

	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/stretchr/testify/require"
)

func TestRolloutActive(t *testing.T) {
	tests := []struct {
		status api.RolloutStatus
		want   bool
	}{
		{api.RolloutPending, false},
		{api.RolloutInProgress, true},
		{api.RolloutPaused, true},
		{api.RolloutCompleted, false},
		{api.RolloutFailed, false},
		{api.RolloutRolledBack, false},
	}
	for _, tt := range tests {
		r := Rollout{Status: tt.status}
		require.Equal(t, tt.want, r.Active(), "status %s", tt.status)
	}
}

func TestPhaseMinHealthyDuration(t *testing.T) {
	def := 5 * time.Minute

	p := RolloutPhase{}
	require.Equal(t, def, p.MinHealthyDuration(def))

	sec := 90
	p.MinHealthyDurationSec = &sec
	require.Equal(t, 90*time.Second, p.MinHealthyDuration(def))
}
