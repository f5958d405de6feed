package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/campus-ticketing/pkg/logger"
)

// Orchestrator runs saga definitions and compensates on failure
type Orchestrator struct {
	definitions map[string]*Definition
	store       Store
	mu          sync.RWMutex
	log         *logger.Logger
}

// OrchestratorConfig holds configuration for the orchestrator
type OrchestratorConfig struct {
	Store  Store
	Logger *logger.Logger
}

// NewOrchestrator creates a new saga orchestrator
func NewOrchestrator(cfg *OrchestratorConfig) *Orchestrator {
	if cfg == nil {
		cfg = &OrchestratorConfig{}
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	return &Orchestrator{
		definitions: make(map[string]*Definition),
		store:       store,
		log:         log.Named("saga"),
	}
}

// RegisterDefinition registers a saga definition
func (o *Orchestrator) RegisterDefinition(def *Definition) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.definitions[def.Name]; exists {
		return fmt.Errorf("saga definition %s already registered", def.Name)
	}
	o.definitions[def.Name] = def
	return nil
}

func (o *Orchestrator) definition(name string) (*Definition, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	def, exists := o.definitions[name]
	if !exists {
		return nil, fmt.Errorf("saga definition %s not found", name)
	}
	return def, nil
}

// Execute starts a new saga instance and runs it to completion. A step
// failure triggers compensation of the completed steps in reverse order and
// returns an *Error wrapping the step error.
func (o *Orchestrator) Execute(ctx context.Context, definitionName string, data Data) (*Instance, error) {
	def, err := o.definition(definitionName)
	if err != nil {
		return nil, err
	}

	instance := NewInstance(def.Name, data)
	if err := o.store.Save(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to save saga instance: %w", err)
	}

	sagaCtx, cancel := context.WithTimeout(ctx, def.Timeout)
	defer cancel()

	instance.SetStatus(StatusRunning)
	o.persist(sagaCtx, instance)

	for _, step := range def.Steps {
		if err := sagaCtx.Err(); err != nil {
			return o.fail(ctx, def, instance, step.Name, err)
		}

		// Step output is merged before persisting so recovery compensates
		// with everything the step produced.
		out, err := o.executeStep(sagaCtx, step, instance)
		if err == nil && out != nil {
			instance.mergeData(out)
		}
		o.persist(sagaCtx, instance)
		if err != nil {
			return o.fail(ctx, def, instance, step.Name, err)
		}
	}

	instance.SetStatus(StatusCompleted)
	o.persist(ctx, instance)
	return instance, nil
}

func (o *Orchestrator) executeStep(ctx context.Context, step *Step, instance *Instance) (Data, error) {
	stepCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	result := &StepResult{StepName: step.Name, StartedAt: time.Now()}
	out, err := step.Execute(stepCtx, instance.GetData())
	result.FinishedAt = time.Now()

	if err != nil {
		result.Status = StepStatusFailed
		result.Error = err.Error()
	} else {
		result.Status = StepStatusCompleted
	}
	instance.addStepResult(result)
	return out, err
}

func (o *Orchestrator) fail(ctx context.Context, def *Definition, instance *Instance, stepName string, stepErr error) (*Instance, error) {
	o.log.Warn("Saga step failed, compensating",
		zap.String("saga_id", instance.ID),
		zap.String("definition", def.Name),
		zap.String("step", stepName),
		zap.Error(stepErr),
	)
	instance.setError(stepErr)

	// Compensation runs on a fresh context so an expired saga deadline does
	// not prevent undoing completed work.
	compCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), def.Timeout)
	defer cancel()

	compErr := o.compensate(compCtx, def, instance)
	return instance, &Error{SagaID: instance.ID, Step: stepName, Err: stepErr, CompensationErr: compErr}
}

// compensate undoes completed steps in reverse order
func (o *Orchestrator) compensate(ctx context.Context, def *Definition, instance *Instance) error {
	instance.SetStatus(StatusCompensating)
	o.persist(ctx, instance)

	var errs []error
	instance.mu.RLock()
	results := append([]*StepResult(nil), instance.StepResults...)
	instance.mu.RUnlock()

	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		if r.Status != StepStatusCompleted {
			continue
		}
		step := def.step(r.StepName)
		if step == nil || step.Compensate == nil {
			continue
		}

		stepCtx, cancel := context.WithTimeout(ctx, step.Timeout)
		err := step.Compensate(stepCtx, instance.GetData())
		cancel()

		if err != nil {
			o.log.Error("Saga compensation failed",
				zap.String("saga_id", instance.ID),
				zap.String("step", step.Name),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
			continue
		}

		instance.mu.Lock()
		r.Status = StepStatusCompensated
		instance.mu.Unlock()
	}

	if len(errs) > 0 {
		instance.SetStatus(StatusFailed)
		o.persist(ctx, instance)
		return errors.Join(errs...)
	}

	instance.SetStatus(StatusCompensated)
	o.persist(ctx, instance)
	return nil
}

// GetInstance retrieves a saga instance by ID
func (o *Orchestrator) GetInstance(ctx context.Context, id string) (*Instance, error) {
	return o.store.Get(ctx, id)
}

// RecoverInterrupted compensates sagas left running or compensating by a
// previous process. Instances whose definition is unknown are skipped.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int, error) {
	recovered := 0
	for _, status := range []Status{StatusRunning, StatusCompensating} {
		instances, err := o.store.ListByStatus(ctx, status, 0)
		if err != nil {
			return recovered, err
		}
		for _, instance := range instances {
			def, err := o.definition(instance.DefinitionID)
			if err != nil {
				continue
			}
			o.log.Info("Recovering interrupted saga",
				zap.String("saga_id", instance.ID),
				zap.String("status", string(instance.Status)),
			)
			if err := o.compensate(ctx, def, instance); err != nil {
				o.log.Error("Saga recovery failed", zap.String("saga_id", instance.ID), zap.Error(err))
				continue
			}
			recovered++
		}
	}
	return recovered, nil
}

func (o *Orchestrator) persist(ctx context.Context, instance *Instance) {
	if err := o.store.Update(ctx, instance); err != nil {
		o.log.Error("Failed to persist saga state",
			zap.String("saga_id", instance.ID),
			zap.Error(err),
		)
	}
}
