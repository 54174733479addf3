package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTriggerInfo_QuarterHour(t *testing.T) {
	ref := time.Date(2026, 3, 10, 10, 20, 0, 0, time.UTC)

	info, err := GetTriggerInfo("*/15 * * * *", ref)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC), info.Next)
	assert.Equal(t, time.Date(2026, 3, 10, 10, 15, 0, 0, time.UTC), info.Last)
	assert.Equal(t, 5*time.Minute, info.TimeSinceLast)
	assert.Equal(t, 10*time.Minute, info.TimeUntilNext)
}

func TestGetTriggerInfo_DailyWithSeconds(t *testing.T) {
	ref := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	info, err := GetTriggerInfo("30 0 6 * * *", ref)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 11, 6, 0, 30, 0, time.UTC), info.Next)
	assert.Equal(t, time.Date(2026, 3, 10, 6, 0, 30, 0, time.UTC), info.Last)
}

func TestGetTriggerInfo_Invalid(t *testing.T) {
	_, err := GetTriggerInfo("not a cron", time.Now())
	assert.Error(t, err)
}
