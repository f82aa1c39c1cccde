package ocr

import (
	"regexp"
	"strings"

	"github.com/sells-group/docpipe/internal/model"
)

// Confidence weights. Raw engine confidence dominates; the remaining
// factors reward text that actually looks like a timetable.
const (
	weightCharConfidence = 0.4
	weightVocabMatch     = 0.2
	weightLayout         = 0.2
	weightTimePatterns   = 0.2
)

// timetableVocab is the working vocabulary of a school timetable. Words
// outside it are not penalized directly; the match rate just contributes
// less.
var timetableVocab = map[string]struct{}{
	"monday": {}, "tuesday": {}, "wednesday": {}, "thursday": {},
	"friday": {}, "saturday": {}, "sunday": {},
	"maths": {}, "english": {}, "science": {}, "history": {},
	"geography": {}, "art": {}, "music": {}, "pe": {},
	"physical": {}, "education": {},
	"assembly": {}, "registration": {}, "break": {}, "lunch": {},
	"recess": {}, "reading": {}, "writing": {}, "phonics": {},
	"spelling": {}, "class": {},
}

var timePattern = regexp.MustCompile(`\b(\d{1,2})[:.]?(\d{2})?\s*(am|pm|AM|PM)?\b`)

// score computes the weighted confidence for a set of recognized words.
func score(words []model.OCRWord, text string) float64 {
	charConf := meanConfidence(words)
	vocab := vocabMatchRate(words)
	layout := layoutScore(len(words))
	times := timePatternScore(text)

	c := weightCharConfidence*charConf +
		weightVocabMatch*vocab +
		weightLayout*layout +
		weightTimePatterns*times
	if c > 1.0 {
		c = 1.0
	}
	return c
}

func meanConfidence(words []model.OCRWord) float64 {
	if len(words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range words {
		sum += w.Confidence
	}
	return sum / float64(len(words))
}

func vocabMatchRate(words []model.OCRWord) float64 {
	if len(words) == 0 {
		return 0
	}
	matches := 0
	for _, w := range words {
		if _, ok := timetableVocab[strings.ToLower(w.Text)]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(words))
}

// layoutScore is a coarse structure heuristic. A real timetable grid
// yields well over ten word boxes.
func layoutScore(wordCount int) float64 {
	switch {
	case wordCount == 0:
		return 0
	case wordCount > 10:
		return 0.8
	default:
		return 0.5
	}
}

// timePatternScore expects at least five time entries in a typical
// timetable.
func timePatternScore(text string) float64 {
	n := len(timePattern.FindAllString(text, -1))
	switch {
	case n >= 5:
		return 1.0
	case n >= 3:
		return 0.8
	case n >= 1:
		return 0.6
	default:
		return 0
	}
}
