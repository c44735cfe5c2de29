package defs

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"caseline/internal/expr"
)

//go:embed definitions.json
var defaultDefinitions []byte

// Tracks a phase can belong to.
const (
	TrackPreLitigation = "pre_litigation"
	TrackLitigation    = "litigation"
	TrackTerminal      = "terminal"
)

// Landmark kinds.
const (
	KindHardBlocker   = "hard_blocker"
	KindSoftBlocker   = "soft_blocker"
	KindProgress      = "progress"
	KindGate          = "gate"
	KindConditional   = "conditional"
	KindExitCondition = "exit_condition"
)

// Criterion is one field-path/required-value pair checked against the
// combined case state + facts context.
type Criterion struct {
	FieldPath     string `json:"field_path" yaml:"field_path"`
	RequiredValue string `json:"required_value" yaml:"required_value"`
}

type ExitCriteria struct {
	HardBlockers map[string]Criterion `json:"hard_blockers,omitempty" yaml:"hard_blockers,omitempty"`
}

type SubphaseDef struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Order     int      `json:"order" yaml:"order"`
	Workflows []string `json:"workflows,omitempty" yaml:"workflows,omitempty"`
}

type PhaseDef struct {
	ID           string        `json:"-" yaml:"-"`
	Name         string        `json:"name" yaml:"name"`
	Order        int           `json:"order" yaml:"order"`
	Track        string        `json:"track" yaml:"track"`
	NextPhase    string        `json:"next_phase,omitempty" yaml:"next_phase,omitempty"`
	SkipTo       []string      `json:"skip_to,omitempty" yaml:"skip_to,omitempty"`
	Workflows    []string      `json:"workflows,omitempty" yaml:"workflows,omitempty"`
	ExitCriteria ExitCriteria  `json:"exit_criteria" yaml:"exit_criteria"`
	Subphases    []SubphaseDef `json:"subphases,omitempty" yaml:"subphases,omitempty"`
}

// Subphase returns the subphase definition by id.
func (p PhaseDef) Subphase(id string) (SubphaseDef, bool) {
	for _, sp := range p.Subphases {
		if sp.ID == id {
			return sp, true
		}
	}
	return SubphaseDef{}, false
}

type StepDef struct {
	ID             string `json:"id" yaml:"id"`
	Description    string `json:"description" yaml:"description"`
	Owner          string `json:"owner" yaml:"owner"`
	Automatable    bool   `json:"automatable,omitempty" yaml:"automatable,omitempty"`
	Prompt         string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	ToolAvailable  bool   `json:"tool_available,omitempty" yaml:"tool_available,omitempty"`
	ManualFallback string `json:"manual_fallback,omitempty" yaml:"manual_fallback,omitempty"`
	Condition      string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// CondExpr is the condition parsed at load time; nil when unconditional.
	CondExpr expr.Expr `json:"-" yaml:"-"`
}

type WorkflowDef struct {
	ID    string    `json:"-" yaml:"-"`
	Name  string    `json:"name" yaml:"name"`
	Steps []StepDef `json:"steps" yaml:"steps"`
}

// Landmark is an immutable definition-time milestone tied to a phase.
type Landmark struct {
	ID              string   `json:"-" yaml:"-"`
	Name            string   `json:"name" yaml:"name"`
	Phase           string   `json:"phase" yaml:"phase"`
	Kind            string   `json:"kind" yaml:"kind"`
	OverrideAllowed bool     `json:"override_allowed,omitempty" yaml:"override_allowed,omitempty"`
	FieldPath       string   `json:"field_path,omitempty" yaml:"field_path,omitempty"`
	RequiredValue   string   `json:"required_value,omitempty" yaml:"required_value,omitempty"`
	AchievedBy      []string `json:"achieved_by,omitempty" yaml:"achieved_by,omitempty"`
}

type rawLibrary struct {
	Phases        map[string]PhaseDef    `json:"phases" yaml:"phases"`
	Workflows     map[string]WorkflowDef `json:"workflows" yaml:"workflows"`
	Dependencies  map[string][]string    `json:"workflow_dependencies,omitempty" yaml:"workflow_dependencies,omitempty"`
	Landmarks     map[string]Landmark    `json:"landmarks,omitempty" yaml:"landmarks,omitempty"`
	LitigationMap map[string]string      `json:"litigation_map,omitempty" yaml:"litigation_map,omitempty"`
}

// Library is the loaded, validated definition store. All condition and
// dependency expressions are parsed; lookups by unknown id return ok=false
// and are skipped by the engine, never fatal.
type Library struct {
	Phases    map[string]PhaseDef
	Workflows map[string]WorkflowDef
	Landmarks map[string]Landmark

	// Requires maps workflow id to its dependency expressions; all must hold
	// before the workflow's first step is actionable.
	Requires map[string][]expr.Expr

	// RequiresText preserves the source expressions for display.
	RequiresText map[string][]string

	// LitigationMap routes litigation workflows into their owning subphase.
	LitigationMap map[string]string
}

// Default loads the embedded definition set.
func Default() (*Library, error) {
	return FromJSON(defaultDefinitions)
}

// FromJSON parses and validates a definition document.
func FromJSON(data []byte) (*Library, error) {
	var raw rawLibrary
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid definitions json: %w", err)
	}
	return build(raw)
}

// FromYAMLFile loads a definition document from a YAML (or JSON) file.
func FromYAMLFile(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw rawLibrary
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid definitions file %s: %w", path, err)
	}
	return build(raw)
}

func build(raw rawLibrary) (*Library, error) {
	lib := &Library{
		Phases:        map[string]PhaseDef{},
		Workflows:     map[string]WorkflowDef{},
		Landmarks:     map[string]Landmark{},
		Requires:      map[string][]expr.Expr{},
		RequiresText:  map[string][]string{},
		LitigationMap: raw.LitigationMap,
	}
	for id, p := range raw.Phases {
		p.ID = id
		lib.Phases[id] = p
	}
	for id, w := range raw.Workflows {
		w.ID = id
		for i := range w.Steps {
			if w.Steps[i].Condition == "" {
				continue
			}
			e, err := expr.Parse(w.Steps[i].Condition)
			if err != nil {
				return nil, fmt.Errorf("workflow %s step %s condition: %w", id, w.Steps[i].ID, err)
			}
			w.Steps[i].CondExpr = e
		}
		lib.Workflows[id] = w
	}
	for id, reqs := range raw.Dependencies {
		for _, r := range reqs {
			e, err := expr.Parse(r)
			if err != nil {
				return nil, fmt.Errorf("workflow %s requires %q: %w", id, r, err)
			}
			lib.Requires[id] = append(lib.Requires[id], e)
		}
		lib.RequiresText[id] = reqs
	}
	for id, lm := range raw.Landmarks {
		lm.ID = id
		lib.Landmarks[id] = lm
	}
	if err := lib.validate(); err != nil {
		return nil, err
	}
	return lib, nil
}

func (l *Library) validate() error {
	if len(l.Phases) == 0 {
		return fmt.Errorf("definitions: at least one phase is required")
	}
	if _, ok := l.FirstPhase(); !ok {
		return fmt.Errorf("definitions: no phase has order 0")
	}
	for id, p := range l.Phases {
		if p.NextPhase != "" {
			if _, ok := l.Phases[p.NextPhase]; !ok {
				return fmt.Errorf("phase %s: next_phase %s not defined", id, p.NextPhase)
			}
		}
		for _, target := range p.SkipTo {
			if _, ok := l.Phases[target]; !ok {
				return fmt.Errorf("phase %s: skip_to %s not defined", id, target)
			}
		}
		if p.Track == TrackLitigation && len(p.Subphases) == 0 {
			return fmt.Errorf("phase %s: litigation track requires subphases", id)
		}
	}
	for id, lm := range l.Landmarks {
		if lm.Kind == KindHardBlocker && lm.OverrideAllowed {
			return fmt.Errorf("landmark %s: hard blockers are never overridable", id)
		}
		if _, ok := l.Phases[lm.Phase]; !ok {
			return fmt.Errorf("landmark %s: phase %s not defined", id, lm.Phase)
		}
	}
	return nil
}

// Phase returns a phase definition by id.
func (l *Library) Phase(id string) (PhaseDef, bool) {
	p, ok := l.Phases[id]
	return p, ok
}

// Workflow returns a workflow definition by id.
func (l *Library) Workflow(id string) (WorkflowDef, bool) {
	w, ok := l.Workflows[id]
	return w, ok
}

// FirstPhase returns the phase with order 0, where every case starts.
func (l *Library) FirstPhase() (PhaseDef, bool) {
	for _, p := range l.Phases {
		if p.Order == 0 {
			return p, true
		}
	}
	return PhaseDef{}, false
}

// OrderedPhases returns all phases sorted by order.
func (l *Library) OrderedPhases() []PhaseDef {
	out := make([]PhaseDef, 0, len(l.Phases))
	for _, p := range l.Phases {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// OwningPhase returns the phase that lists the workflow, directly or through
// one of its subphases.
func (l *Library) OwningPhase(workflowID string) (PhaseDef, bool) {
	for _, p := range l.OrderedPhases() {
		for _, id := range p.Workflows {
			if id == workflowID {
				return p, true
			}
		}
		for _, sp := range p.Subphases {
			for _, id := range sp.Workflows {
				if id == workflowID {
					return p, true
				}
			}
		}
	}
	return PhaseDef{}, false
}

// PhaseLandmarks returns the landmarks owned by a phase, hard blockers first,
// then by id for stable output.
func (l *Library) PhaseLandmarks(phaseID string) []Landmark {
	var out []Landmark
	for _, lm := range l.Landmarks {
		if lm.Phase == phaseID {
			out = append(out, lm)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		hi, hj := out[i].Kind == KindHardBlocker, out[j].Kind == KindHardBlocker
		if hi != hj {
			return hi
		}
		return out[i].ID < out[j].ID
	})
	return out
}
