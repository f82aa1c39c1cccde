package model

// OCRWord is a single recognized word with its bounding box.
type OCRWord struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Left       int     `json:"left"`
	Top        int     `json:"top"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// OCRResult is the output of an OCR engine run over one artifact.
// Confidence is the weighted overall score in [0,1] the quality gate
// routes on.
type OCRResult struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Words      []OCRWord `json:"words,omitempty"`
	Engine     string    `json:"engine"`
}
