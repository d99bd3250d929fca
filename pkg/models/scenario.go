// Package models defines the domain models for the MINT workbench service.
package models

import (
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"
)

// DateRange is an inclusive calendar date interval.
type DateRange struct {
	Start openapi_types.Date `json:"start_date"`
	End   openapi_types.Date `json:"end_date"`
}

// Valid reports whether both ends are set and start is not after end.
func (d DateRange) Valid() bool {
	if d.Start.IsZero() || d.End.IsZero() {
		return false
	}
	return !d.Start.After(d.End.Time)
}

// Scenario is a top-level modeling exercise (problem statement) tied to a region and date range.
type Scenario struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RegionID  string    `json:"region_id"`
	Dates     DateRange `json:"dates"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Task is a named objective (goal) within a scenario.
type Task struct {
	ID                string    `json:"id"`
	ScenarioID        string    `json:"scenario_id"`
	Name              string    `json:"name"`
	IndicatorID       string    `json:"indicator_id,omitempty"`
	InterventionID    string    `json:"intervention_id,omitempty"`
	Dates             DateRange `json:"dates"`
	ResponseVariables []string  `json:"response_variables"`
	DrivingVariables  []string  `json:"driving_variables"`
	Owner             string    `json:"owner"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
