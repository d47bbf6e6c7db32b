package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart Stage = "RUN_START"
	StageStep     Stage = "STEP"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"
)

// Step outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Event captures one milestone of a run.
type Event struct {
	RunID     string        `json:"run_id,omitempty"`
	TS        time.Time     `json:"ts"`
	Stage     Stage         `json:"stage"`
	Company   string        `json:"company"`
	CompanyID string        `json:"company_id,omitempty"`
	Mode      string        `json:"mode,omitempty"`
	// Step is the pipeline step name for StageStep events.
	Step    string        `json:"step,omitempty"`
	Outcome string        `json:"outcome,omitempty"`
	Dur     time.Duration `json:"duration,omitempty"`
	// Note carries low-volume context such as error text.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.Company == "" && e.CompanyID == "" {
		return errors.New("company is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageStep:
		if e.Step == "" {
			return errors.New("step event requires step")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
