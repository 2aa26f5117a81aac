package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const FileName = "stratline.yml"

var validate = validator.New()

// Config models stratline.yml.
type Config struct {
	Org struct {
		ID   string `yaml:"id" validate:"required"`
		Name string `yaml:"name"`
	} `yaml:"org"`
	Progress struct {
		Milestones []int `yaml:"milestones" validate:"dive,min=1,max=100"`
	} `yaml:"progress"`
	Templates struct {
		ProjectDueDays int `yaml:"project_due_days" validate:"min=0,max=3650"`
		ActionDueDays  int `yaml:"action_due_days" validate:"min=0,max=3650"`
	} `yaml:"templates"`
	Notifications struct {
		Webhooks []Webhook `yaml:"webhooks" validate:"dive"`
	} `yaml:"notifications"`
	Log struct {
		Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
		Format string `yaml:"format" validate:"omitempty,oneof=text json"`
	} `yaml:"log"`
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
}

// Webhook is an outbound notification target.
type Webhook struct {
	ID             string   `yaml:"id" validate:"required"`
	URL            string   `yaml:"url" validate:"required,url"`
	Secret         string   `yaml:"secret"`
	Kinds          []string `yaml:"kinds"`
	TimeoutSeconds int      `yaml:"timeout_seconds" validate:"min=0,max=120"`
	Enabled        *bool    `yaml:"enabled"`
}

// Active reports whether the hook should receive deliveries; unset means enabled.
func (w Webhook) Active() bool { return w.Enabled == nil || *w.Enabled }

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := Load(workspace)
	if err == nil {
		return cfg, nil
	}
	if _, statErr := os.Stat(Path(workspace)); os.IsNotExist(statErr) {
		return Default("default"), nil
	}
	return nil, err
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: %s failed %s validation", fe.Namespace(), fe.Tag())
		}
		return err
	}
	seen := map[int]bool{}
	for _, m := range c.Progress.Milestones {
		if seen[m] {
			return fmt.Errorf("config.progress.milestones has duplicate threshold %d", m)
		}
		seen[m] = true
	}
	ids := map[string]bool{}
	for _, h := range c.Notifications.Webhooks {
		if ids[h.ID] {
			return fmt.Errorf("config.notifications.webhooks has duplicate id %s", h.ID)
		}
		ids[h.ID] = true
	}
	return nil
}

// applyDefaults fills zero values that have a meaningful default.
func (c *Config) applyDefaults() {
	if len(c.Progress.Milestones) == 0 {
		c.Progress.Milestones = []int{25, 50, 75, 100}
	}
	sort.Ints(c.Progress.Milestones)
	if c.Templates.ProjectDueDays == 0 {
		c.Templates.ProjectDueDays = 30
	}
	if c.Templates.ActionDueDays == 0 {
		c.Templates.ActionDueDays = 14
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Org.Name == "" {
		c.Org.Name = c.Org.ID
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(orgID string) string {
	return fmt.Sprintf(defaultTemplate, orgID)
}

// Default returns the default Config struct for an org.
func Default(orgID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(orgID))).Decode(&cfg)
	cfg.applyDefaults()
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
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

const defaultTemplate = `org:
  id: %s

progress:
  # notify owners when progress crosses these thresholds upward
  milestones: [25, 50, 75, 100]

templates:
  project_due_days: 30
  action_due_days: 14

notifications:
  webhooks: []

log:
  level: info
  format: text
`
