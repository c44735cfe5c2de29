package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models caseline.yml.
type Config struct {
	Firm struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name,omitempty" json:"name,omitempty"`
	} `yaml:"firm" json:"firm"`
	SOL struct {
		// Categories match substrings in the case identifier to a statute
		// duration in years; the first match wins, Default covers the rest.
		Categories []SOLCategory `yaml:"categories" json:"categories"`
		Default    SOLCategory   `yaml:"default" json:"default"`
		Thresholds struct {
			CriticalDays  int `yaml:"critical_days" json:"critical_days"`
			UrgentDays    int `yaml:"urgent_days" json:"urgent_days"`
			AttentionDays int `yaml:"attention_days" json:"attention_days"`
		} `yaml:"thresholds" json:"thresholds"`
	} `yaml:"sol" json:"sol"`
	Alerts struct {
		StaleContactDays int `yaml:"stale_contact_days" json:"stale_contact_days"`
	} `yaml:"alerts" json:"alerts"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles,omitempty" json:"roles,omitempty"`
	} `yaml:"rbac" json:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

type SOLCategory struct {
	Name  string   `yaml:"name" json:"name"`
	Match []string `yaml:"match,omitempty" json:"match,omitempty"`
	Years int      `yaml:"years" json:"years"`
}

type RBACRole struct {
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with cl firm config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Firm.ID == "" {
		return fmt.Errorf("config.firm.id is required")
	}
	if c.SOL.Default.Years <= 0 {
		return fmt.Errorf("config.sol.default.years must be positive")
	}
	for _, cat := range c.SOL.Categories {
		if cat.Name == "" {
			return fmt.Errorf("sol category with empty name")
		}
		if cat.Years <= 0 {
			return fmt.Errorf("sol category %s: years must be positive", cat.Name)
		}
		for _, m := range cat.Match {
			if strings.TrimSpace(m) == "" {
				return fmt.Errorf("sol category %s has empty match substring", cat.Name)
			}
		}
	}
	th := c.SOL.Thresholds
	if th.CriticalDays > th.UrgentDays || th.UrgentDays > th.AttentionDays {
		return fmt.Errorf("sol thresholds must be ordered critical <= urgent <= attention")
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["attorney"]; !ok {
			return fmt.Errorf("config.rbac.roles must include attorney")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	return nil
}

// CategoryFor selects the statute category for a case identifier by
// substring match; the default category covers everything else.
func (c *Config) CategoryFor(caseID string) SOLCategory {
	lowered := strings.ToLower(caseID)
	for _, cat := range c.SOL.Categories {
		for _, m := range cat.Match {
			if m != "" && strings.Contains(lowered, strings.ToLower(m)) {
				return cat
			}
		}
	}
	return c.SOL.Default
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(firmID string) string {
	return fmt.Sprintf(defaultTemplate, firmID)
}

// Default returns the default Config struct for a firm.
func Default(firmID string) *Config {
	var cfg Config
	cfg.Firm.ID = firmID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, firmID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `firm:
  id: %s

sol:
  categories:
    - name: motor-vehicle
      match: [mva, motor, auto]
      years: 2
    - name: premises
      match: [premises, slip, fall]
      years: 1
    - name: workers-compensation
      match: [wc, workers]
      years: 2
  default:
    name: motor-vehicle
    years: 2
  thresholds:
    critical_days: 14
    urgent_days: 30
    attention_days: 90

alerts:
  stale_contact_days: 30

rbac:
  roles:
    attorney:
      description: "Licensed attorney on the case"
      permissions: [phase.approve, case.write, case.read]
    paralegal:
      description: "Paralegal support"
      permissions: [case.write, case.read]
    agent:
      description: "Automated agent"
      permissions: [case.write, case.read]
`
