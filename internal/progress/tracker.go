// Package progress tracks the step-by-step state of a monitoring iteration
// so dashboards can render live progress without polling the database.
package progress

import (
	"sync"
	"time"
)

// StepStatus is the lifecycle state of one iteration step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepError     StepStatus = "error"
)

// Well-known step keys in execution order.
const (
	StepLogin          = "login"
	StepNavigate       = "navigate"
	StepBaseFilters    = "base_filters"
	StepChance         = "chance"
	StepRuleta         = "ruleta"
	StepDataReady      = "data_ready"
	StepGenerateAlerts = "generate_alerts"
	StepComplete       = "complete"
)

// Step is one entry in the iteration pipeline.
type Step struct {
	Key        string     `json:"key"`
	Label      string     `json:"label"`
	Status     StepStatus `json:"status"`
	Detail     string     `json:"detail,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// State is an immutable snapshot of the tracker.
type State struct {
	Version   uint64     `json:"version"`
	Active    bool       `json:"active"`
	Success   *bool      `json:"success,omitempty"`
	Error     string     `json:"error,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Steps     []Step     `json:"steps"`
}

func defaultSteps() []Step {
	return []Step{
		{Key: StepLogin, Label: "Login", Status: StepPending},
		{Key: StepNavigate, Label: "Navegación", Status: StepPending},
		{Key: StepBaseFilters, Label: "Filtros base", Status: StepPending},
		{Key: StepChance, Label: "CHANCE EXPRESS", Status: StepPending},
		{Key: StepRuleta, Label: "RULETA EXPRESS", Status: StepPending},
		{Key: StepDataReady, Label: "Datos listos", Status: StepPending},
		{Key: StepGenerateAlerts, Label: "Generando alertas", Status: StepPending},
		{Key: StepComplete, Label: "Completado", Status: StepPending},
	}
}

// Tracker is a versioned step state machine. Every mutation bumps the version
// so watchers can detect change with a single integer compare.
type Tracker struct {
	mu      sync.Mutex
	version uint64
	active  bool
	success *bool
	errMsg  string
	started *time.Time
	ended   *time.Time
	steps   []Step

	now func() time.Time
}

// NewTracker builds an idle tracker with the default step template.
func NewTracker() *Tracker {
	return &Tracker{
		steps: defaultSteps(),
		now:   time.Now,
	}
}

// TryStart begins a new run if none is active. Returns false when a run is
// already in flight, which makes the tracker double as a single-flight gate.
func (t *Tracker) TryStart() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active {
		return false
	}

	now := t.now()
	t.active = true
	t.success = nil
	t.errMsg = ""
	t.started = &now
	t.ended = nil
	t.steps = defaultSteps()
	t.version++
	return true
}

// Advance marks the given step running with an optional detail message. Any
// step still running is completed first so the pipeline never shows two
// concurrent steps.
func (t *Tracker) Advance(key, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for i := range t.steps {
		if t.steps[i].Status == StepRunning {
			t.steps[i].Status = StepCompleted
			finished := now
			t.steps[i].FinishedAt = &finished
		}
	}
	for i := range t.steps {
		if t.steps[i].Key != key {
			continue
		}
		started := now
		t.steps[i].Status = StepRunning
		t.steps[i].Detail = detail
		t.steps[i].StartedAt = &started
		t.steps[i].FinishedAt = nil
		break
	}
	t.version++
}

// CompleteStep marks one step completed without starting the next.
func (t *Tracker) CompleteStep(key, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for i := range t.steps {
		if t.steps[i].Key != key {
			continue
		}
		finished := now
		t.steps[i].Status = StepCompleted
		if detail != "" {
			t.steps[i].Detail = detail
		}
		if t.steps[i].StartedAt == nil {
			t.steps[i].StartedAt = &finished
		}
		t.steps[i].FinishedAt = &finished
		break
	}
	t.version++
}

// Finish ends the run. On failure the currently running step is flagged with
// the error; on success every remaining step is completed.
func (t *Tracker) Finish(success bool, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		return
	}

	now := t.now()
	for i := range t.steps {
		switch t.steps[i].Status {
		case StepRunning:
			finished := now
			t.steps[i].FinishedAt = &finished
			if success {
				t.steps[i].Status = StepCompleted
			} else {
				t.steps[i].Status = StepError
				t.steps[i].Detail = errMsg
			}
		case StepPending:
			if success {
				started := now
				t.steps[i].Status = StepCompleted
				t.steps[i].StartedAt = &started
				t.steps[i].FinishedAt = &started
			}
		}
	}

	t.active = false
	t.success = &success
	t.errMsg = errMsg
	t.ended = &now
	t.version++
}

// Active reports whether a run is currently in flight.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Version returns the current mutation counter.
func (t *Tracker) Version() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

// Snapshot returns a deep copy of the tracker state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := State{
		Version: t.version,
		Active:  t.active,
		Error:   t.errMsg,
		Steps:   make([]Step, len(t.steps)),
	}
	if t.success != nil {
		value := *t.success
		state.Success = &value
	}
	if t.started != nil {
		value := *t.started
		state.StartedAt = &value
	}
	if t.ended != nil {
		value := *t.ended
		state.EndedAt = &value
	}
	for i, step := range t.steps {
		copied := step
		if step.StartedAt != nil {
			value := *step.StartedAt
			copied.StartedAt = &value
		}
		if step.FinishedAt != nil {
			value := *step.FinishedAt
			copied.FinishedAt = &value
		}
		state.Steps[i] = copied
	}
	return state
}
