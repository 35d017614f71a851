// Package framework loads the hierarchical capability framework document
// (objectives -> principles -> outcomes -> indicator statements) used to
// drive the assessment wizard.
package framework

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"assessline/internal/fault"
)

const (
	ProfileBaseline = "baseline"
	ProfileEnhanced = "enhanced"
)

const (
	BucketAchieved          = "achieved"
	BucketPartiallyAchieved = "partially-achieved"
	BucketNotAchieved       = "not-achieved"
)

// Framework is the in-memory tree parsed from the framework document.
type Framework struct {
	Version    string      `yaml:"version"`
	Title      string      `yaml:"title"`
	Objectives []Objective `yaml:"objectives"`
}

type Objective struct {
	Code        string      `yaml:"code"`
	Title       string      `yaml:"title"`
	Description string      `yaml:"description"`
	Principles  []Principle `yaml:"principles"`
}

type Principle struct {
	Code        string    `yaml:"code"`
	Title       string    `yaml:"title"`
	Description string    `yaml:"description"`
	Outcomes    []Outcome `yaml:"outcomes"`
}

// Outcome is an assessable unit carrying the three indicator buckets, each a
// mapping indicator-code -> statement text.
type Outcome struct {
	Code        string     `yaml:"code"`
	Title       string     `yaml:"title"`
	Description string     `yaml:"description"`
	Indicators  Indicators `yaml:"indicators"`
	// MinProfileRequirement maps a profile name to the minimum outcome
	// status required for it. Absent entries mean no minimum declared.
	MinProfileRequirement map[string]string `yaml:"min_profile_requirement"`
}

type Indicators struct {
	Achieved          map[string]string `yaml:"achieved"`
	PartiallyAchieved map[string]string `yaml:"partially-achieved"`
	NotAchieved       map[string]string `yaml:"not-achieved"`
}

// Bucket returns the named bucket mapping, or nil for an unknown name.
func (i Indicators) Bucket(name string) map[string]string {
	switch name {
	case BucketAchieved:
		return i.Achieved
	case BucketPartiallyAchieved:
		return i.PartiallyAchieved
	case BucketNotAchieved:
		return i.NotAchieved
	}
	return nil
}

// SortedCodes returns the indicator codes of a bucket in stable statement
// order. Dotted numeric segments compare numerically so that e.g. A1.a.10
// sorts after A1.a.2.
func SortedCodes(bucket map[string]string) []string {
	codes := make([]string, 0, len(bucket))
	for code := range bucket {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(a, b int) bool { return lessCode(codes[a], codes[b]) })
	return codes
}

func lessCode(a, b string) bool {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			return an < bn
		}
		return as[i] < bs[i]
	}
	return len(as) < len(bs)
}

// Outcome finds an outcome by code anywhere in the tree.
func (f *Framework) Outcome(code string) (*Outcome, error) {
	for oi := range f.Objectives {
		for pi := range f.Objectives[oi].Principles {
			p := &f.Objectives[oi].Principles[pi]
			for i := range p.Outcomes {
				if p.Outcomes[i].Code == code {
					return &p.Outcomes[i], nil
				}
			}
		}
	}
	return nil, fault.NotFoundError{Kind: "outcome", Code: code}
}

// Objective finds a top-level objective by code.
func (f *Framework) Objective(code string) (*Objective, error) {
	for i := range f.Objectives {
		if f.Objectives[i].Code == code {
			return &f.Objectives[i], nil
		}
	}
	return nil, fault.NotFoundError{Kind: "objective", Code: code}
}

// Validate walks the tree and fails fast on structural defects. Empty
// indicator buckets are allowed; duplicate sibling codes are not.
func (f *Framework) Validate() error {
	if len(f.Objectives) == 0 {
		return fmt.Errorf("framework has no objectives")
	}
	seenObjectives := map[string]bool{}
	for _, obj := range f.Objectives {
		if obj.Code == "" {
			return fmt.Errorf("objective with empty code")
		}
		if seenObjectives[obj.Code] {
			return fmt.Errorf("duplicate objective code %s", obj.Code)
		}
		seenObjectives[obj.Code] = true
		seenPrinciples := map[string]bool{}
		for _, p := range obj.Principles {
			if p.Code == "" {
				return fmt.Errorf("objective %s has principle with empty code", obj.Code)
			}
			if seenPrinciples[p.Code] {
				return fmt.Errorf("duplicate principle code %s under objective %s", p.Code, obj.Code)
			}
			seenPrinciples[p.Code] = true
			seenOutcomes := map[string]bool{}
			for _, o := range p.Outcomes {
				if o.Code == "" {
					return fmt.Errorf("principle %s has outcome with empty code", p.Code)
				}
				if seenOutcomes[o.Code] {
					return fmt.Errorf("duplicate outcome code %s under principle %s", o.Code, p.Code)
				}
				seenOutcomes[o.Code] = true
				for profile, min := range o.MinProfileRequirement {
					if profile != ProfileBaseline && profile != ProfileEnhanced {
						return fmt.Errorf("outcome %s declares minimum for unknown profile %s", o.Code, profile)
					}
					switch min {
					case "achieved", "partially_achieved", "not_achieved":
					default:
						return fmt.Errorf("outcome %s has invalid minimum status %s for profile %s", o.Code, min, profile)
					}
				}
			}
		}
	}
	return nil
}

type document struct {
	Framework Framework `yaml:"framework"`
}

// FromYAML parses and validates a framework document.
func FromYAML(data []byte) (*Framework, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid framework yaml: %w", err)
	}
	fw := doc.Framework
	if err := fw.Validate(); err != nil {
		return nil, err
	}
	return &fw, nil
}

// FromFile reads a framework document from the given path.
func FromFile(path string) (*Framework, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the embedded framework document.
func Default() *Framework {
	fw, err := FromYAML([]byte(defaultDocument))
	if err != nil {
		panic(fmt.Sprintf("embedded framework invalid: %v", err))
	}
	return fw
}

const defaultDocument = `framework:
  version: "3.2"
  title: Cyber capability framework
  objectives:
    - code: A
      title: Managing security risk
      description: Governance and risk management structures around essential functions.
      principles:
        - code: A1
          title: Governance
          description: Direction and oversight of security at board level.
          outcomes:
            - code: A1.a
              title: Board direction
              description: Senior management direction on cyber security.
              indicators:
                achieved:
                  A1.a.5: "Your organisation's approach and policy relating to the security of essential functions are owned and managed at senior management level."
                  A1.a.6: "Regular board discussions take place on the security of network and information systems supporting the essential function."
                  A1.a.7: "Senior management clearly articulates security priorities and risk appetite."
                  A1.a.8: "Direction set at board level is translated into effective organisational practices."
                partially-achieved: {}
                not-achieved:
                  A1.a.1: "Security direction for the essential function comes from a low level of the organisation, or is absent."
                  A1.a.2: "The security of network and information systems is not discussed at board level."
                  A1.a.3: "Senior management has not articulated a risk appetite for the essential function."
                  A1.a.4: "Board-level direction is not reflected in day-to-day practice."
              min_profile_requirement:
                baseline: partially_achieved
                enhanced: achieved
            - code: A1.b
              title: Roles and responsibilities
              description: Clear security roles and responsibilities.
              indicators:
                achieved:
                  A1.b.4: "Key roles are filled by people with the necessary knowledge and skills."
                  A1.b.5: "Security responsibilities are defined in relation to the essential function."
                  A1.b.6: "Staff understand their security responsibilities and are empowered to carry them out."
                partially-achieved:
                  A1.b.2: "Some security responsibilities are defined but gaps remain."
                  A1.b.3: "Staff are generally aware of who is responsible for security."
                not-achieved:
                  A1.b.1: "Security responsibilities in relation to the essential function are unclear or unassigned."
              min_profile_requirement:
                baseline: partially_achieved
                enhanced: achieved
        - code: A2
          title: Risk management
          description: Identification, assessment and understanding of security risks.
          outcomes:
            - code: A2.a
              title: Risk management process
              description: A systematic process for managing security risk.
              indicators:
                achieved:
                  A2.a.4: "Your risk assessments are based on a clearly defined set of threat assumptions."
                  A2.a.5: "Risk assessment outputs are communicated to decision makers in a meaningful way."
                  A2.a.6: "Security risks are managed through the lifecycle of systems supporting the essential function."
                partially-achieved:
                  A2.a.2: "Risk assessments are carried out but not consistently through system lifecycles."
                  A2.a.3: "Risk assessment outputs are too technical to support decisions."
                not-achieved:
                  A2.a.1: "Risk assessments relating to the essential function are not carried out."
              min_profile_requirement:
                baseline: partially_achieved
                enhanced: achieved
    - code: B
      title: Protecting against cyber attack
      description: Proportionate measures to protect essential functions from attack.
      principles:
        - code: B1
          title: Service protection policies
          description: Policies and processes that secure systems and data.
          outcomes:
            - code: B1.a
              title: Policy and process development
              description: Development of security policies and processes.
              indicators:
                achieved:
                  B1.a.3: "Your policies and processes are developed from a clear understanding of risk."
                  B1.a.4: "Policies and processes are kept current and reviewed after security incidents."
                partially-achieved:
                  B1.a.2: "Policies exist but are not informed by an understanding of risk."
                not-achieved:
                  B1.a.1: "Policies and processes relating to the security of the essential function are absent."
              min_profile_requirement:
                baseline: not_achieved
                enhanced: partially_achieved
            - code: B1.b
              title: Policy and process implementation
              description: Implementation of security policies and processes.
              indicators:
                achieved:
                  B1.b.3: "All staff are aware of their responsibilities under your policies and processes."
                  B1.b.4: "Breaches of policies and processes are detected and investigated."
                partially-achieved:
                  B1.b.2: "Policies are partially implemented across the organisation."
                not-achieved:
                  B1.b.1: "Policies and processes are not implemented or followed."
`
