// Package pricing holds the credit cost table for generation models and the
// plan and pack catalog used when billing events are turned into grants.
package pricing

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/digkill/imagecredits/internal/models"
)

// UnknownCost is charged for any model, task type or resolution missing from
// the table. No balance can cover it, so unpriced work is refused.
const UnknownCost = 1_000_000_000

//go:embed default.yaml
var defaultCatalog []byte

type ModelPrice struct {
	TaskType    models.TaskType `yaml:"task_type"`
	Model       string          `yaml:"model"`
	Provider    string          `yaml:"provider"`
	Credits     int             `yaml:"credits"`
	Default     bool            `yaml:"default"`
	Resolutions map[string]int  `yaml:"resolutions"`
}

type Plan struct {
	Type       models.QuotaType `yaml:"type"`
	Credits    int              `yaml:"credits"`
	PriceCents int64            `yaml:"price_cents"`
}

type Pack struct {
	ID         string `yaml:"id"`
	Credits    int    `yaml:"credits"`
	PriceCents int64  `yaml:"price_cents"`
	ValidDays  int    `yaml:"valid_days"`
}

type catalogFile struct {
	DefaultResolution string       `yaml:"default_resolution"`
	Models            []ModelPrice `yaml:"models"`
	Plans             []Plan       `yaml:"plans"`
	Packs             []Pack       `yaml:"packs"`
}

type Catalog struct {
	defaultResolution string
	models            map[string]ModelPrice
	defaults          map[models.TaskType]string
	plans             map[models.QuotaType]Plan
	packs             map[string]Pack
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads the catalog from path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode pricing catalog: %w", err)
	}

	c := &Catalog{
		defaultResolution: strings.ToUpper(strings.TrimSpace(file.DefaultResolution)),
		models:            map[string]ModelPrice{},
		defaults:          map[models.TaskType]string{},
		plans:             map[models.QuotaType]Plan{},
		packs:             map[string]Pack{},
	}
	if c.defaultResolution == "" {
		c.defaultResolution = "1K"
	}

	var errs []error
	for _, m := range file.Models {
		switch {
		case m.Model == "" || m.Provider == "":
			errs = append(errs, fmt.Errorf("model entry %q needs model and provider", m.Model))
			continue
		case m.Credits <= 0:
			errs = append(errs, fmt.Errorf("model %s: credits must be positive", m.Model))
			continue
		}
		resolutions := make(map[string]int, len(m.Resolutions))
		for res, mult := range m.Resolutions {
			if mult <= 0 {
				errs = append(errs, fmt.Errorf("model %s: multiplier for %s must be positive", m.Model, res))
				continue
			}
			resolutions[strings.ToUpper(res)] = mult
		}
		m.Resolutions = resolutions
		key := modelKey(m.TaskType, m.Model)
		if _, dup := c.models[key]; dup {
			errs = append(errs, fmt.Errorf("model %s listed twice for %s", m.Model, m.TaskType))
			continue
		}
		c.models[key] = m
		if m.Default {
			c.defaults[m.TaskType] = m.Model
		}
	}
	for _, p := range file.Plans {
		if !p.Type.IsPlan() {
			errs = append(errs, fmt.Errorf("unknown plan type %q", p.Type))
			continue
		}
		c.plans[p.Type] = p
	}
	for _, p := range file.Packs {
		if p.ID == "" || p.Credits <= 0 {
			errs = append(errs, fmt.Errorf("pack %q needs an id and positive credits", p.ID))
			continue
		}
		c.packs[p.ID] = p
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid pricing catalog: %w", err)
	}
	return c, nil
}

func modelKey(taskType models.TaskType, model string) string {
	return string(taskType) + "|" + model
}

// Lookup returns the price entry for a task type and model.
func (c *Catalog) Lookup(taskType models.TaskType, model string) (ModelPrice, bool) {
	m, ok := c.models[modelKey(taskType, model)]
	return m, ok
}

// DefaultModel is the model used when a request does not name one.
func (c *Catalog) DefaultModel(taskType models.TaskType) string {
	return c.defaults[taskType]
}

// Cost is a pure function of the request shape. An empty resolution means the
// catalog default; anything not in the table costs UnknownCost.
func (c *Catalog) Cost(taskType models.TaskType, model, resolution string) int {
	m, ok := c.Lookup(taskType, model)
	if !ok {
		return UnknownCost
	}
	res := strings.ToUpper(strings.TrimSpace(resolution))
	if res == "" {
		res = c.defaultResolution
	}
	mult, ok := m.Resolutions[res]
	if !ok {
		if len(m.Resolutions) > 0 || res != c.defaultResolution {
			return UnknownCost
		}
		mult = 1
	}
	return m.Credits * mult
}

func (c *Catalog) Plan(t models.QuotaType) (Plan, bool) {
	p, ok := c.plans[t]
	return p, ok
}

func (c *Catalog) Pack(id string) (Pack, bool) {
	p, ok := c.packs[id]
	return p, ok
}
