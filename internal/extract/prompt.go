package extract

// systemPrompt instructs the vision model to return one JSON object in
// the shape of model.Timetable. Keys match the Go struct tags so the
// response unmarshals directly.
const systemPrompt = `You are an expert at extracting school timetable data from images.

Analyze the provided timetable image and extract all scheduled events.

Return a JSON object with this exact structure:
{
  "teacher": "Teacher name (if visible)",
  "class_name": "Class name (if visible)",
  "term": "Term/semester (if visible)",
  "year": 2026,
  "timeblocks": [
    {
      "day": "Monday|Tuesday|Wednesday|Thursday|Friday",
      "name": "Event/subject name (preserve exact spelling)",
      "start_time": "HH:MM" (24-hour format),
      "end_time": "HH:MM" (24-hour format),
      "notes": "Any additional details"
    }
  ]
}

CRITICAL RULES:
1. Preserve original event names exactly as written
2. Convert all times to 24-hour format (HH:MM)
3. If only duration given, calculate end time
4. Extract ALL events, even if partially visible
5. For merged cells spanning multiple time slots, use the full time range
6. Mark any uncertainty in the notes field
7. Omit optional fields you cannot read instead of guessing
8. Return ONLY valid JSON, no additional text`
