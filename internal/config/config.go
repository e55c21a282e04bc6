// Package config loads and validates fit and service configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cwbudde/nlsmultistart/internal/data"
	"github.com/cwbudde/nlsmultistart/internal/fit"
	"github.com/cwbudde/nlsmultistart/internal/model"
	"github.com/cwbudde/nlsmultistart/internal/opt"
)

var goValidator = validator.New()

// ValidationErrors represents multiple validation errors.
type ValidationErrors struct {
	Errors []string `json:"errors"`
}

func (ve ValidationErrors) Error() string {
	if len(ve.Errors) == 0 {
		return "no validation errors"
	}
	return strings.Join(ve.Errors, "; ")
}

// ValidateStruct validates a struct using its validate tags.
func ValidateStruct(s any) error {
	if err := goValidator.Struct(s); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok {
			out := ValidationErrors{}
			for _, e := range ve {
				out.Errors = append(out.Errors, fmt.Sprintf("%s %s", e.Field(), e.ActualTag()))
			}
			return out
		}
		return err
	}
	return nil
}

// FitConfig describes one multi-start fitting run.
type FitConfig struct {
	Formula     string             `yaml:"formula" json:"formula" validate:"required"`
	ID          string             `yaml:"id" json:"id" validate:"required"`
	Predictors  []string           `yaml:"predictors" json:"predictors" validate:"required,min=1,dive,required"`
	Params      []string           `yaml:"params,omitempty" json:"params,omitempty" validate:"omitempty,dive,required"`
	ParamBounds []float64          `yaml:"param_bds" json:"param_bds" validate:"required,min=2"`
	Lower       map[string]float64 `yaml:"lower,omitempty" json:"lower,omitempty"`
	Upper       map[string]float64 `yaml:"upper,omitempty" json:"upper,omitempty"`

	Tries      int  `yaml:"tries" json:"tries" validate:"gte=1"`
	Patience   int  `yaml:"patience" json:"patience" validate:"gte=1"`
	R2         bool `yaml:"r2" json:"r2"`
	SuppErrors bool `yaml:"supp_errors" json:"supp_errors"`
	AICc       bool `yaml:"AICc" json:"AICc"`

	NAAction     string `yaml:"na_action" json:"na_action" validate:"oneof=omit fail"`
	Seed         int64  `yaml:"seed" json:"seed"`
	Resolution   int    `yaml:"resolution" json:"resolution" validate:"gte=2"`
	Workers      int    `yaml:"workers" json:"workers" validate:"gte=1"`
	TrialWorkers int    `yaml:"trial_workers" json:"trial_workers" validate:"gte=1"`

	Solver  string  `yaml:"solver" json:"solver" validate:"oneof=lm mayfly-lm nelder-mead"`
	MaxIter int     `yaml:"max_iter" json:"max_iter" validate:"gte=1"`
	Tol     float64 `yaml:"tol" json:"tol" validate:"gt=0"`

	// Data is an optional dataset path used by the CLI.
	Data string `yaml:"data,omitempty" json:"data,omitempty"`
}

// Default returns a FitConfig with every optional field at its default.
func Default() FitConfig {
	settings := opt.DefaultSettings()
	return FitConfig{
		Tries:        500,
		Patience:     100,
		AICc:         true,
		NAAction:     string(data.NAOmit),
		Seed:         1,
		Resolution:   fit.DefaultResolution,
		Workers:      1,
		TrialWorkers: 1,
		Solver:       opt.NameLM,
		MaxIter:      settings.MaxIterations,
		Tol:          settings.Tolerance,
	}
}

// Load reads a YAML config file over the defaults and validates it.
func Load(path string) (*FitConfig, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read reads a YAML config file over the defaults without validating it,
// so callers can fill in remaining fields first.
func Read(path string) (*FitConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return decode(raw)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(raw []byte) (*FitConfig, error) {
	cfg, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(raw []byte) (*FitConfig, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks tags and cross-field rules.
func (c *FitConfig) Validate() error {
	if err := ValidateStruct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if len(c.ParamBounds)%2 != 0 {
		return fmt.Errorf("validate config: %w", &fit.InvalidBoundsError{Reason: "param_bds must hold lower/upper pairs"})
	}
	if len(c.Params) > 0 && len(c.ParamBounds) != 2*len(c.Params) {
		return fmt.Errorf("validate config: %w", &fit.InvalidBoundsError{Reason: "param_bds must hold one pair per declared parameter"})
	}
	return nil
}

// Model parses the formula against the configured predictors.
func (c *FitConfig) Model() (*model.Model, error) {
	return model.Parse(c.Formula, c.Predictors)
}

// Bounds pairs param_bds with the declared parameter order, or the formula
// order when params is not set.
func (c *FitConfig) Bounds(m *model.Model) (fit.ParamBounds, error) {
	names := c.Params
	if len(names) == 0 {
		names = m.Params()
	}
	return fit.NewParamBounds(names, c.ParamBounds)
}

// BuildSolver builds the configured solver.
func (c *FitConfig) BuildSolver() (opt.Solver, error) {
	return opt.New(c.Solver, opt.Settings{
		MaxIterations: c.MaxIter,
		Tolerance:     c.Tol,
		Seed:          c.Seed,
	})
}

// Options converts the config into run options for m.
func (c *FitConfig) Options(m *model.Model) (fit.Options, error) {
	bounds, err := c.Bounds(m)
	if err != nil {
		return fit.Options{}, err
	}
	solver, err := c.BuildSolver()
	if err != nil {
		return fit.Options{}, err
	}
	return fit.Options{
		Bounds:       bounds,
		Constraints:  fit.Constraints{Lower: c.Lower, Upper: c.Upper},
		Tries:        c.Tries,
		Patience:     c.Patience,
		AICc:         c.AICc,
		R2:           c.R2,
		SuppErrors:   c.SuppErrors,
		Seed:         c.Seed,
		Resolution:   c.Resolution,
		Workers:      c.Workers,
		TrialWorkers: c.TrialWorkers,
		Solver:       solver,
	}, nil
}

// CSVOptions describes how to read the dataset for m.
func (c *FitConfig) CSVOptions(m *model.Model) data.CSVOptions {
	return data.CSVOptions{
		IDColumn:         c.ID,
		ResponseColumn:   m.Response(),
		PredictorColumns: c.Predictors,
		NAAction:         data.NAAction(c.NAAction),
	}
}
