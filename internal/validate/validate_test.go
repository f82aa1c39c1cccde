package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docpipe/internal/model"
	"github.com/sells-group/docpipe/internal/resilience"
)

func strp(s string) *string { return &s }

func validTimetable() *model.Timetable {
	return &model.Timetable{
		TimeBlocks: []model.TimeBlock{
			{Day: "Monday", Name: "Maths", StartTime: strp("09:00"), EndTime: strp("10:00")},
			{Day: "Friday", Name: "Art"},
		},
	}
}

func TestTimetable_Valid(t *testing.T) {
	res := Timetable(validTimetable())
	assert.True(t, res.Valid)
	assert.Empty(t, res.Findings)
}

func TestTimetable_Nil(t *testing.T) {
	res := Timetable(nil)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Findings[0], "no timeblocks")
}

func TestTimetable_EmptyBlocks(t *testing.T) {
	res := Timetable(&model.Timetable{})
	assert.False(t, res.Valid)
}

func TestTimetable_UnknownDay(t *testing.T) {
	tt := validTimetable()
	tt.TimeBlocks[0].Day = "Funday"

	res := Timetable(tt)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Findings[0], `unknown day "Funday"`)
}

func TestTimetable_BadTimeFormat(t *testing.T) {
	tt := validTimetable()
	tt.TimeBlocks[0].StartTime = strp("9am")

	res := Timetable(tt)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Findings[0], `bad start time "9am"`)
}

func TestTimetable_TwentyFourHourBounds(t *testing.T) {
	tt := validTimetable()
	tt.TimeBlocks[0].StartTime = strp("24:00")
	tt.TimeBlocks[0].EndTime = nil

	res := Timetable(tt)
	assert.False(t, res.Valid)
}

func TestTimetable_StartNotBeforeEnd(t *testing.T) {
	tt := validTimetable()
	tt.TimeBlocks[0].StartTime = strp("11:00")
	tt.TimeBlocks[0].EndTime = strp("10:00")

	res := Timetable(tt)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Findings[0], "not before end")
}

func TestTimetable_MissingName(t *testing.T) {
	tt := validTimetable()
	tt.TimeBlocks[1].Name = ""

	res := Timetable(tt)
	assert.False(t, res.Valid)
}

func TestTimetable_OptionalTimesAbsent(t *testing.T) {
	tt := &model.Timetable{
		TimeBlocks: []model.TimeBlock{{Day: "Tuesday", Name: "Assembly"}},
	}
	assert.True(t, Timetable(tt).Valid)
}

func TestCheck_ReturnsValidationError(t *testing.T) {
	err := Check(&model.Timetable{})
	require.Error(t, err)

	var vErr *resilience.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.False(t, resilience.IsRetryable(err))
}

func TestCheck_ValidReturnsNil(t *testing.T) {
	assert.NoError(t, Check(validTimetable()))
}
