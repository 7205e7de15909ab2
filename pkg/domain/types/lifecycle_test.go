package types_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

func TestLifecycleState_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		state types.LifecycleState
		want  bool
	}{
		{
			name:  "valid active",
			state: types.LifecycleActive,
			want:  true,
		},
		{
			name:  "valid deleted",
			state: types.LifecycleDeleted,
			want:  true,
		},
		{
			name:  "invalid state",
			state: types.LifecycleState("DORMANT"),
			want:  false,
		},
		{
			name:  "empty state",
			state: types.LifecycleState(""),
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.want {
				gt.B(t, tt.state.IsValid()).True()
			} else {
				gt.B(t, tt.state.IsValid()).False()
			}
		})
	}
}

func TestLifecycleState_Normalize(t *testing.T) {
	gt.V(t, types.LifecycleState("").Normalize()).Equal(types.LifecycleActive)
	gt.V(t, types.LifecycleStale.Normalize()).Equal(types.LifecycleStale)
}

func TestLifecycleState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from types.LifecycleState
		to   types.LifecycleState
		want bool
	}{
		{"active to stale", types.LifecycleActive, types.LifecycleStale, true},
		{"stale to archived", types.LifecycleStale, types.LifecycleArchived, true},
		{"archived to expired", types.LifecycleArchived, types.LifecycleExpired, true},
		{"expired to deleted", types.LifecycleExpired, types.LifecycleDeleted, true},
		{"active skips to expired", types.LifecycleActive, types.LifecycleExpired, true},
		{"stale skips to deleted", types.LifecycleStale, types.LifecycleDeleted, true},
		{"restore archived to active", types.LifecycleArchived, types.LifecycleActive, true},
		{"empty treated as active", types.LifecycleState(""), types.LifecycleStale, true},
		{"no self transition", types.LifecycleStale, types.LifecycleStale, false},
		{"stale cannot go active", types.LifecycleStale, types.LifecycleActive, false},
		{"expired cannot go active", types.LifecycleExpired, types.LifecycleActive, false},
		{"expired cannot go archived", types.LifecycleExpired, types.LifecycleArchived, false},
		{"deleted is terminal", types.LifecycleDeleted, types.LifecycleActive, false},
		{"unknown target", types.LifecycleActive, types.LifecycleState("DORMANT"), false},
		{"unknown source", types.LifecycleState("DORMANT"), types.LifecycleStale, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.want {
				gt.B(t, tt.from.CanTransitionTo(tt.to)).True()
			} else {
				gt.B(t, tt.from.CanTransitionTo(tt.to)).False()
			}
		})
	}
}

func TestLifecycleState_Terminal(t *testing.T) {
	gt.B(t, types.LifecycleDeleted.Terminal()).True()
	gt.B(t, types.LifecycleExpired.Terminal()).False()
	gt.B(t, types.LifecycleActive.Terminal()).False()
}

func TestAllLifecycleStates(t *testing.T) {
	states := types.AllLifecycleStates()
	gt.A(t, states).Length(5)

	for _, state := range states {
		gt.B(t, state.IsValid()).
			Describef("State %s should be valid", state).
			True()
	}

	// Declaration order is the forward transition order.
	for i := 0; i < len(states)-1; i++ {
		gt.B(t, states[i].CanTransitionTo(states[i+1])).
			Describef("%s should transition to %s", states[i], states[i+1]).
			True()
	}
}

func TestParseLifecycleState(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    types.LifecycleState
		wantErr bool
	}{
		{
			name:    "valid active",
			input:   "ACTIVE",
			want:    types.LifecycleActive,
			wantErr: false,
		},
		{
			name:    "valid archived",
			input:   "ARCHIVED",
			want:    types.LifecycleArchived,
			wantErr: false,
		},
		{
			name:    "lowercase rejected",
			input:   "active",
			want:    "",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			want:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := types.ParseLifecycleState(tt.input)
			if tt.wantErr {
				gt.Error(t, err)
			} else {
				gt.NoError(t, err)
				gt.V(t, got).Equal(tt.want)
			}
		})
	}
}
