// Package validate checks extracted timetables for structural and
// semantic problems before they are persisted.
package validate

import (
	"fmt"
	"regexp"

	"github.com/sells-group/docpipe/internal/model"
	"github.com/sells-group/docpipe/internal/resilience"
)

// Result lists everything wrong with a timetable. Valid means no
// findings.
type Result struct {
	Valid    bool
	Findings []string
}

var knownDays = map[string]struct{}{
	"Monday": {}, "Tuesday": {}, "Wednesday": {}, "Thursday": {},
	"Friday": {}, "Saturday": {}, "Sunday": {},
}

var timeRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Timetable validates t. A nil timetable or one with no timeblocks is
// invalid.
func Timetable(t *model.Timetable) Result {
	var findings []string

	if t == nil || len(t.TimeBlocks) == 0 {
		findings = append(findings, "timetable has no timeblocks")
		return Result{Valid: false, Findings: findings}
	}

	for i, tb := range t.TimeBlocks {
		if tb.Name == "" {
			findings = append(findings, fmt.Sprintf("timeblock %d: missing name", i))
		}
		if _, ok := knownDays[tb.Day]; !ok {
			findings = append(findings, fmt.Sprintf("timeblock %d: unknown day %q", i, tb.Day))
		}
		if tb.StartTime != nil && !timeRe.MatchString(*tb.StartTime) {
			findings = append(findings, fmt.Sprintf("timeblock %d: bad start time %q", i, *tb.StartTime))
		}
		if tb.EndTime != nil && !timeRe.MatchString(*tb.EndTime) {
			findings = append(findings, fmt.Sprintf("timeblock %d: bad end time %q", i, *tb.EndTime))
		}
		if tb.StartTime != nil && tb.EndTime != nil &&
			timeRe.MatchString(*tb.StartTime) && timeRe.MatchString(*tb.EndTime) &&
			*tb.StartTime >= *tb.EndTime {
			findings = append(findings, fmt.Sprintf("timeblock %d: start %s not before end %s", i, *tb.StartTime, *tb.EndTime))
		}
	}

	return Result{Valid: len(findings) == 0, Findings: findings}
}

// Check runs Timetable and converts findings into a terminal
// ValidationError.
func Check(t *model.Timetable) error {
	res := Timetable(t)
	if res.Valid {
		return nil
	}
	return resilience.NewValidationError(res.Findings)
}
