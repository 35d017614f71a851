package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"assessline/internal/framework"
)

// Config models assessline.yml.
type Config struct {
	Organisation struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"organisation"`
	Assessment struct {
		Profile         string `yaml:"profile"`
		MaxCommentWords int    `yaml:"max_comment_words"`
	} `yaml:"assessment"`
	Framework struct {
		// File optionally overrides the embedded framework document.
		File string `yaml:"file"`
	} `yaml:"framework"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Actions     []string `yaml:"actions"`
}

var knownActions = map[string]bool{
	"assessment.edit":   true,
	"assessment.submit": true,
	"review.edit":       true,
	"review.finalise":   true,
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Organisation.ID == "" {
		return fmt.Errorf("config.organisation.id is required")
	}
	switch c.Assessment.Profile {
	case framework.ProfileBaseline, framework.ProfileEnhanced:
	default:
		return fmt.Errorf("config.assessment.profile must be %s or %s", framework.ProfileBaseline, framework.ProfileEnhanced)
	}
	if c.Assessment.MaxCommentWords <= 0 {
		return fmt.Errorf("config.assessment.max_comment_words must be positive")
	}
	for roleID, role := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		for _, action := range role.Actions {
			if !knownActions[action] {
				return fmt.Errorf("role %s grants unknown action %s", roleID, action)
			}
		}
	}
	return nil
}

// RoleAllows reports whether any of the principal's roles grants the action.
func (c *Config) RoleAllows(roles []string, action string) bool {
	for _, roleID := range roles {
		role, ok := c.RBAC.Roles[roleID]
		if !ok {
			continue
		}
		for _, a := range role.Actions {
			if a == action {
				return true
			}
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "assessline.yml")
}

// Load reads and validates config from workspace, falling back to defaults
// when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return &cfg
}

const defaultTemplate = `organisation:
  id: default-org
  name: Default Organisation

assessment:
  profile: baseline
  max_comment_words: 500

framework:
  file: ""

rbac:
  roles:
    contributor:
      description: "Answers indicator questions and confirms outcomes"
      actions: [assessment.edit, assessment.submit]
    reviewer:
      description: "Produces the independent assessment"
      actions: [review.edit, review.finalise]
    moderator:
      description: "Signs off completed reviews"
      actions: [review.edit, review.finalise]
`
