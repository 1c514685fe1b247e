package types

import "time"

// Region is the region of interest and learning rate handed to the engine.
type Region struct {
	X      int     `json:"x" yaml:"x"`
	Y      int     `json:"y" yaml:"y"`
	Width  int     `json:"width" yaml:"width"`
	Height int     `json:"height" yaml:"height"`
	LR     float64 `json:"lr" yaml:"lr"`
}

// Analysis is one processed batch as recorded in the database.
type Analysis struct {
	ID         string    `json:"analysisId"`
	ResultPath string    `json:"resultPath"`
	Message    string    `json:"message"`
	Frames     int       `json:"frames"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ResultFiles lists the images a processing run produced.
type ResultFiles struct {
	OriginalNames      []string `json:"originalNames"`
	InterestImageNames []string `json:"interestImageNames"`
	OutputImageNames   []string `json:"outputImageNames"`
}

// Dumps locates the SQL scripts written for one analysis.
type Dumps struct {
	Import    string `json:"import,omitempty"`
	FrameData string `json:"frameData,omitempty"`
}

// ProcessResult is the response body of a multi-frame processing request.
type ProcessResult struct {
	Success          bool        `json:"success"`
	ResultPath       string      `json:"resultPath"`
	ResultFiles      ResultFiles `json:"resultFiles"`
	Message          string      `json:"message"`
	FileNumProcessed int         `json:"fileNumProcessed"`
	AnalysisID       string      `json:"analysisId,omitempty"`
	Dumps            Dumps       `json:"dumps"`
}

// ErrorResult is the JSON body returned for failed HTTP requests.
type ErrorResult struct {
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Path      string    `json:"path"`
}
