package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser accepts standard five-field expressions, an optional leading
// seconds field, and descriptors such as @hourly.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type TriggerInfo struct {
	Next       time.Time
	Last       time.Time
	Expression string

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

func (t TriggerInfo) String() string {
	if t.Last.IsZero() {
		return fmt.Sprintf("%q next=%s (in %s)", t.Expression,
			t.Next.Format(time.RFC3339), t.TimeUntilNext.Round(time.Second))
	}
	return fmt.Sprintf("%q last=%s next=%s (in %s)", t.Expression,
		t.Last.Format(time.RFC3339), t.Next.Format(time.RFC3339),
		t.TimeUntilNext.Round(time.Second))
}

// GetTriggerInfo reports the nearest fire times of cronExpr around refTime.
// Last is searched for up to one year back and stays zero when not found.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	nextTime := schedule.Next(refTime)

	var prevTime time.Time
	for i := range 366 * 24 {
		checkTime := refTime.Add(-time.Duration(i+1) * time.Hour)
		candidate := schedule.Next(checkTime)
		if candidate.After(refTime) {
			continue
		}
		// walk forward to the latest fire time not after refTime
		for {
			following := schedule.Next(candidate)
			if following.After(refTime) {
				break
			}
			candidate = following
		}
		prevTime = candidate
		break
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       nextTime,
		Last:       prevTime,
	}
	if !prevTime.IsZero() {
		info.TimeSinceLast = refTime.Sub(prevTime)
	}
	info.TimeUntilNext = nextTime.Sub(refTime)

	return info, nil
}
