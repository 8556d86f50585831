// Package flow interprets the JSON conversation scripts attached to
// flow-driven bots. A script has one of three shapes: a stateless reply,
// a walk over linked steps, or a rendered menu.
package flow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/m3rciful/flowbot/core/domain"
)

var (
	// ErrStepNotFound means the cursor points at a step the script does not define.
	ErrStepNotFound = errors.New("flow: step not found")
	// ErrUnknownShape means the document is none of the supported shapes.
	ErrUnknownShape = errors.New("flow: unknown shape")
)

// Shape tags the kind of script.
type Shape int

const (
	ShapeResponse Shape = iota + 1
	ShapeSteps
	ShapeMenu
)

func (s Shape) String() string {
	switch s {
	case ShapeResponse:
		return "response"
	case ShapeSteps:
		return "steps"
	case ShapeMenu:
		return "menu"
	default:
		return "unknown"
	}
}

const (
	defaultInitialStep = "step1"
	defaultMenuText    = "Choose an option:"
)

// Step is one node of a linear or branching walk.
type Step struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	SaveTo string `json:"save_to,omitempty"`
	Next   string `json:"next,omitempty"`
}

// Button is a menu entry. Only the label is rendered.
type Button struct {
	Text string `json:"text"`
}

// Definition is a parsed script.
type Definition struct {
	Shape       Shape
	Response    string
	Steps       []Step
	InitialStep string
	Text        string
	Buttons     []Button
}

type document struct {
	Response    *string  `json:"response"`
	Steps       []Step   `json:"steps"`
	InitialStep string   `json:"initial_step"`
	Type        string   `json:"type"`
	Text        *string  `json:"text"`
	Buttons     []Button `json:"buttons"`
}

// Parse decodes a script. A "response" key wins over "steps", which wins
// over a menu type.
func Parse(raw []byte) (*Definition, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("flow: decode: %w", err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("flow: decode: %w", err)
	}

	_, hasResponse := keys["response"]
	_, hasSteps := keys["steps"]
	switch {
	case hasResponse:
		d := &Definition{Shape: ShapeResponse}
		if doc.Response != nil {
			d.Response = *doc.Response
		}
		return d, nil
	case hasSteps:
		initial := doc.InitialStep
		if initial == "" {
			initial = defaultInitialStep
		}
		return &Definition{Shape: ShapeSteps, Steps: doc.Steps, InitialStep: initial}, nil
	case doc.Type == "menu":
		text := defaultMenuText
		if doc.Text != nil {
			text = *doc.Text
		}
		return &Definition{Shape: ShapeMenu, Text: text, Buttons: doc.Buttons}, nil
	default:
		return nil, ErrUnknownShape
	}
}

// Validate applies the stricter checks used when a script is authored:
// unique step ids and links that resolve. Execute does not require them.
func (d *Definition) Validate() error {
	if d.Shape != ShapeSteps {
		return nil
	}
	if len(d.Steps) == 0 {
		return errors.New("flow: steps must not be empty")
	}
	ids := make(map[string]bool, len(d.Steps))
	for i, s := range d.Steps {
		if s.ID == "" {
			return fmt.Errorf("flow: step %d has no id", i)
		}
		if ids[s.ID] {
			return fmt.Errorf("flow: duplicate step id %q", s.ID)
		}
		ids[s.ID] = true
	}
	if !ids[d.InitialStep] {
		return fmt.Errorf("flow: initial_step %q: %w", d.InitialStep, ErrStepNotFound)
	}
	for _, s := range d.Steps {
		if s.Next != "" && !ids[s.Next] {
			return fmt.Errorf("flow: step %q links to %q: %w", s.ID, s.Next, ErrStepNotFound)
		}
	}
	return nil
}

func (d *Definition) step(id string) (Step, bool) {
	for _, s := range d.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Result is the outcome of one execution. Data and State are only
// meaningful when Changed is set.
type Result struct {
	Messages []string
	Data     domain.StateData
	State    domain.State
	Changed  bool
	// Step is the id of the step that ran, for logging.
	Step string
}

// Execute runs def against the user's state data for one input token. The
// passed data is never modified.
func Execute(def *Definition, data domain.StateData, input string) (Result, error) {
	switch def.Shape {
	case ShapeResponse:
		return Result{Messages: []string{def.Response}}, nil
	case ShapeMenu:
		return Result{Messages: []string{renderMenu(def)}}, nil
	case ShapeSteps:
		return walk(def, data, input)
	default:
		return Result{}, ErrUnknownShape
	}
}

func walk(def *Definition, data domain.StateData, input string) (Result, error) {
	cur := def.InitialStep
	if data.Has(domain.KeyCurrentStep) {
		cur = data.String(domain.KeyCurrentStep)
	}
	s, ok := def.step(cur)
	if !ok {
		return Result{Step: cur}, fmt.Errorf("%w: %q", ErrStepNotFound, cur)
	}

	next := data.Clone()
	res := Result{Messages: []string{s.Text}, Data: next, Changed: true, Step: s.ID}
	if s.SaveTo != "" {
		next[s.SaveTo] = input
	}
	if s.Next != "" {
		next[domain.KeyCurrentStep] = s.Next
	} else {
		delete(next, domain.KeyCurrentStep)
		res.State = domain.StateRegistered
	}
	return res, nil
}

func renderMenu(def *Definition) string {
	var b strings.Builder
	b.WriteString(def.Text)
	b.WriteString("\n\n")
	for i, btn := range def.Buttons {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(btn.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
