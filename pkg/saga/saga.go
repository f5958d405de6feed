package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status represents the current status of a saga
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
	// StatusFailed means a compensation itself failed and manual repair is needed
	StatusFailed Status = "failed"
)

// StepStatus represents the status of a saga step
type StepStatus string

const (
	StepStatusCompleted   StepStatus = "completed"
	StepStatusFailed      StepStatus = "failed"
	StepStatusCompensated StepStatus = "compensated"
)

// Data is the string-keyed state threaded through the steps of a saga
type Data map[string]string

func (d Data) clone() Data {
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// ExecuteFunc runs a step. Returned data is merged into the saga data.
type ExecuteFunc func(ctx context.Context, data Data) (Data, error)

// CompensateFunc undoes a completed step
type CompensateFunc func(ctx context.Context, data Data) error

// Step represents a single step in a saga
type Step struct {
	Name       string
	Execute    ExecuteFunc
	Compensate CompensateFunc
	Timeout    time.Duration
}

// Definition defines a saga with its steps
type Definition struct {
	Name    string
	Steps   []*Step
	Timeout time.Duration
}

// NewDefinition creates a new saga definition
func NewDefinition(name string) *Definition {
	return &Definition{
		Name:    name,
		Timeout: time.Minute,
	}
}

// AddStep adds a step to the saga definition
func (d *Definition) AddStep(step *Step) *Definition {
	if step.Timeout == 0 {
		step.Timeout = 30 * time.Second
	}
	d.Steps = append(d.Steps, step)
	return d
}

func (d *Definition) step(name string) *Step {
	for _, s := range d.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// StepResult records the outcome of one step
type StepResult struct {
	StepName   string     `json:"step_name"`
	Status     StepStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Instance represents a running or finished saga
type Instance struct {
	ID           string        `json:"id"`
	DefinitionID string        `json:"definition_id"`
	Status       Status        `json:"status"`
	Data         Data          `json:"data"`
	StepResults  []*StepResult `json:"step_results"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`

	mu sync.RWMutex
}

// NewInstance creates a new saga instance
func NewInstance(definitionID string, data Data) *Instance {
	now := time.Now()
	if data == nil {
		data = Data{}
	}
	return &Instance{
		ID:           uuid.New().String(),
		DefinitionID: definitionID,
		Status:       StatusPending,
		Data:         data.clone(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// SetStatus updates the saga status
func (i *Instance) SetStatus(status Status) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Status = status
	i.UpdatedAt = time.Now()
	if status == StatusCompleted || status == StatusCompensated || status == StatusFailed {
		now := i.UpdatedAt
		i.CompletedAt = &now
	}
}

// GetStatus returns the current saga status
func (i *Instance) GetStatus() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.Status
}

// GetData returns a copy of the saga data
func (i *Instance) GetData() Data {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.Data.clone()
}

func (i *Instance) mergeData(data Data) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for k, v := range data {
		i.Data[k] = v
	}
	i.UpdatedAt = time.Now()
}

func (i *Instance) addStepResult(r *StepResult) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.StepResults = append(i.StepResults, r)
	i.UpdatedAt = time.Now()
}

func (i *Instance) setError(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err != nil {
		i.Error = err.Error()
	}
	i.UpdatedAt = time.Now()
}

// ToJSON serializes the saga instance to JSON
func (i *Instance) ToJSON() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return json.Marshal(i)
}

// FromJSON deserializes the saga instance from JSON
func FromJSON(data []byte) (*Instance, error) {
	var instance Instance
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal saga instance: %w", err)
	}
	if instance.Data == nil {
		instance.Data = Data{}
	}
	return &instance, nil
}

// Error is returned by Execute when a step failed. It unwraps to the step error.
type Error struct {
	SagaID string
	Step   string
	Err    error
	// CompensationErr is set when undoing a completed step also failed
	CompensationErr error
}

func (e *Error) Error() string {
	if e.CompensationErr != nil {
		return fmt.Sprintf("saga %s: step %s failed: %v (compensation failed: %v)", e.SagaID, e.Step, e.Err, e.CompensationErr)
	}
	return fmt.Sprintf("saga %s: step %s failed: %v", e.SagaID, e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
