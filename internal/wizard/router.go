// Package wizard compiles the framework tree into the ordered sequence of
// interactive steps that drives an assessment, and generates the field
// schema each step renders.
package wizard

import (
	"fmt"

	"assessline/internal/framework"
)

type Stage string

const (
	StageSection      Stage = "section"
	StageIndicators   Stage = "indicators"
	StageConfirmation Stage = "confirmation"
)

type Kind string

const (
	KindObjectivePage    Kind = "objective-page"
	KindPrinciplePage    Kind = "principle-page"
	KindIndicatorsPage   Kind = "indicators-page"
	KindConfirmationPage Kind = "confirmation-page"
)

// Finished is the exit marker a step's Next points at when it is the last
// step of the wizard.
const Finished = "finished"

// Step is one page of the multi-step flow.
type Step struct {
	Key       string `json:"key"`
	Kind      Kind   `json:"kind"`
	Stage     Stage  `json:"stage"`
	Code      string `json:"code"`
	Title     string `json:"title"`
	ParentKey string `json:"parent_key,omitempty"`
	Next      string `json:"next"`
}

// Steps is the compiled, immutable wizard. It is produced once at start-up
// and safe for concurrent readers.
type Steps struct {
	Ordered []Step
	index   map[string]int
	parents map[string]string
}

// Compile traverses the tree depth-first in document order: one section step
// per objective and principle, then an indicators step and a confirmation
// step per outcome. Compiling the same tree twice yields identical key
// sequences; a duplicate key means the framework document itself is
// defective and compilation fails rather than emitting an ambiguous wizard.
func Compile(fw *framework.Framework) (*Steps, error) {
	s := &Steps{
		index:   map[string]int{},
		parents: map[string]string{},
	}
	for oi := range fw.Objectives {
		obj := &fw.Objectives[oi]
		objKey := "objective_" + obj.Code
		if err := s.append(Step{Key: objKey, Kind: KindObjectivePage, Stage: StageSection, Code: obj.Code, Title: obj.Title}, ""); err != nil {
			return nil, err
		}
		for pi := range obj.Principles {
			p := &obj.Principles[pi]
			prinKey := "principle_" + p.Code
			if err := s.append(Step{Key: prinKey, Kind: KindPrinciplePage, Stage: StageSection, Code: p.Code, Title: p.Title}, objKey); err != nil {
				return nil, err
			}
			for i := range p.Outcomes {
				o := &p.Outcomes[i]
				if err := s.append(Step{Key: "indicators_" + o.Code, Kind: KindIndicatorsPage, Stage: StageIndicators, Code: o.Code, Title: o.Title}, prinKey); err != nil {
					return nil, err
				}
				if err := s.append(Step{Key: "confirmation_" + o.Code, Kind: KindConfirmationPage, Stage: StageConfirmation, Code: o.Code, Title: o.Title}, prinKey); err != nil {
					return nil, err
				}
			}
		}
	}
	for i := range s.Ordered {
		if i+1 < len(s.Ordered) {
			s.Ordered[i].Next = s.Ordered[i+1].Key
		} else {
			s.Ordered[i].Next = Finished
		}
	}
	return s, nil
}

func (s *Steps) append(step Step, parentKey string) error {
	if _, exists := s.index[step.Key]; exists {
		return fmt.Errorf("duplicate step key %s", step.Key)
	}
	step.ParentKey = parentKey
	s.index[step.Key] = len(s.Ordered)
	if parentKey != "" {
		s.parents[step.Key] = parentKey
	}
	s.Ordered = append(s.Ordered, step)
	return nil
}

// ByKey returns the step with the given key.
func (s *Steps) ByKey(key string) (Step, bool) {
	i, ok := s.index[key]
	if !ok {
		return Step{}, false
	}
	return s.Ordered[i], true
}

// Parent returns the parent step of the given key, if any.
func (s *Steps) Parent(key string) (Step, bool) {
	parentKey, ok := s.parents[key]
	if !ok {
		return Step{}, false
	}
	return s.ByKey(parentKey)
}

// Ancestors returns the chain of ancestor steps from the immediate parent up
// to the root, for breadcrumb construction.
func (s *Steps) Ancestors(key string) []Step {
	var chain []Step
	cur := key
	for {
		parent, ok := s.Parent(cur)
		if !ok {
			return chain
		}
		chain = append(chain, parent)
		cur = parent.Key
	}
}

// LastChild returns the last step in wizard order whose parent is parentKey,
// answering queries like "last indicator under this principle".
func (s *Steps) LastChild(parentKey string) (Step, bool) {
	var last Step
	found := false
	for _, step := range s.Ordered {
		if step.ParentKey == parentKey {
			last = step
			found = true
		}
	}
	return last, found
}

// Keys returns the ordered step keys.
func (s *Steps) Keys() []string {
	keys := make([]string, len(s.Ordered))
	for i, step := range s.Ordered {
		keys[i] = step.Key
	}
	return keys
}
