package model

// TimeBlock is a single scheduled event on a timetable. StartTime and
// EndTime are 24-hour "HH:MM" strings; optional fields are nil when the
// source document does not show them.
type TimeBlock struct {
	Day       string  `json:"day"`
	Name      string  `json:"name"`
	StartTime *string `json:"start_time,omitempty"`
	EndTime   *string `json:"end_time,omitempty"`
	Notes     *string `json:"notes,omitempty"`
}

// Timetable is the structured data extracted from a timetable document.
type Timetable struct {
	Teacher    *string     `json:"teacher,omitempty"`
	ClassName  *string     `json:"class_name,omitempty"`
	Term       *string     `json:"term,omitempty"`
	Year       *int        `json:"year,omitempty"`
	TimeBlocks []TimeBlock `json:"timeblocks"`
}
