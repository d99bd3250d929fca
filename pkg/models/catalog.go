package models

import "time"

// ModelIO is a model input or output file slot, tagged with standard variable names.
type ModelIO struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Variables []string `json:"variables"`
}

// ModelParameter is an adjustable or fixed scalar input of a model.
type ModelParameter struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Type       string   `json:"type,omitempty"`
	Min        *float64 `json:"min,omitempty"`
	Max        *float64 `json:"max,omitempty"`
	Default    string   `json:"default,omitempty"`
	Unit       string   `json:"unit,omitempty"`
	Adjustable bool     `json:"adjustable"`
}

// Model is a model configuration from the model catalog.
type Model struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	InputFiles      []ModelIO        `json:"input_files"`
	InputParameters []ModelParameter `json:"input_parameters"`
	OutputFiles     []ModelIO        `json:"output_files"`
}

// InputIDs returns the ids of every file input and parameter, files first.
func (m Model) InputIDs() []string {
	ids := make([]string, 0, len(m.InputFiles)+len(m.InputParameters))
	for _, f := range m.InputFiles {
		ids = append(ids, f.ID)
	}
	for _, p := range m.InputParameters {
		ids = append(ids, p.ID)
	}
	return ids
}

// InputFile looks up a file input by id.
func (m Model) InputFile(id string) (ModelIO, bool) {
	for _, f := range m.InputFiles {
		if f.ID == id {
			return f, true
		}
	}
	return ModelIO{}, false
}

// Parameter looks up a parameter by id.
func (m Model) Parameter(id string) (ModelParameter, bool) {
	for _, p := range m.InputParameters {
		if p.ID == id {
			return p, true
		}
	}
	return ModelParameter{}, false
}

// TimePeriod is a half-open coverage interval; zero values mean unbounded.
type TimePeriod struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// DatasetResource is a single file of a dataset.
type DatasetResource struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	URL        string     `json:"url"`
	TimePeriod TimePeriod `json:"time_period"`
}

// Dataset is an entry from the data catalog.
type Dataset struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Variables   []string          `json:"variables"`
	Region      string            `json:"region,omitempty"`
	TimePeriod  TimePeriod        `json:"time_period"`
	Resources   []DatasetResource `json:"resources,omitempty"`
}

// DatasetQuery filters a data catalog search.
type DatasetQuery struct {
	Variables []string
	RegionID  string
	Start     time.Time
	End       time.Time
	Limit     int
}
