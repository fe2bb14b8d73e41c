package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTriggerInfo(t *testing.T) {
	ref := time.Date(2025, 3, 10, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		expr string
		last time.Time
		next time.Time
	}{
		{"0 * * * *", time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC), time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC), time.Date(2025, 3, 11, 3, 0, 0, 0, time.UTC)},
		{"*/5 * * * *", ref, time.Date(2025, 3, 10, 10, 35, 0, 0, time.UTC)},
		{"@monthly", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			info, err := GetTriggerInfo(tt.expr, ref)
			require.NoError(t, err)
			assert.Equal(t, tt.last, info.Last)
			assert.Equal(t, tt.next, info.Next)
			assert.Equal(t, ref.Sub(tt.last), info.TimeSinceLast)
			assert.Equal(t, tt.next.Sub(ref), info.TimeUntilNext)
		})
	}
}

func TestGetTriggerInfo_Invalid(t *testing.T) {
	_, err := GetTriggerInfo("0 0 0 * * *", time.Now())
	assert.Error(t, err)
	_, err = GetTriggerInfo("whenever", time.Now())
	assert.Error(t, err)
}
