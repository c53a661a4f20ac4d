package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// hclFile is the top-level structure of an .hcl definition file:
//
//	settings {
//	  threads = 8
//	}
//
//	orchestrator "nightly" {
//	  options = { dryrun = true }
//	  task "fetch" {
//	    type    = "command"
//	    options = { command = "git", args = ["fetch"] }
//	  }
//	  task "build" {
//	    type       = "command"
//	    depends_on = ["fetch"]
//	    exclusive  = ["workspace"]
//	  }
//	}
//
//	pipeline "release" {
//	  step "nightly" {}
//	  step "publish" { task = "command" }
//	}
type hclFile struct {
	Settings      *hclSettings       `hcl:"settings,block"`
	Orchestrators []*hclOrchestrator `hcl:"orchestrator,block"`
	Pipelines     []*hclPipeline     `hcl:"pipeline,block"`
}

type hclSettings struct {
	LogLevel        string `hcl:"log_level,optional"`
	LogFormat       string `hcl:"log_format,optional"`
	Namespace       string `hcl:"namespace,optional"`
	Threads         int    `hcl:"threads,optional"`
	FailOnException *bool  `hcl:"fail_on_exception,optional"`
	HistoryPath     string `hcl:"history_path,optional"`
}

type hclOrchestrator struct {
	Name    string         `hcl:"name,label"`
	Threads int            `hcl:"threads,optional"`
	Options hcl.Expression `hcl:"options,optional"`
	Tasks   []*hclTask     `hcl:"task,block"`
}

type hclTask struct {
	ID        string         `hcl:"id,label"`
	Type      string         `hcl:"type"`
	DependsOn []string       `hcl:"depends_on,optional"`
	Options   hcl.Expression `hcl:"options,optional"`
	Exclusive []string       `hcl:"exclusive,optional"`
}

type hclPipeline struct {
	Name    string         `hcl:"name,label"`
	Options hcl.Expression `hcl:"options,optional"`
	Steps   []*hclStep     `hcl:"step,block"`
}

// hclStep runs the task named by its label unless task is set.
type hclStep struct {
	ID      string         `hcl:"id,label"`
	Task    string         `hcl:"task,optional"`
	Options hcl.Expression `hcl:"options,optional"`
}

func decodeHCL(path string, data []byte) (*Config, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCL(data, path)
	if diags.HasErrors() {
		return nil, diags
	}

	var parsed hclFile
	if diags := gohcl.DecodeBody(f.Body, nil, &parsed); diags.HasErrors() {
		return nil, diags
	}

	cfg := &Config{
		Orchestrators: make(map[string]OrchestratorConfig, len(parsed.Orchestrators)),
		Pipelines:     make(map[string]PipelineConfig, len(parsed.Pipelines)),
	}
	if s := parsed.Settings; s != nil {
		cfg.Settings = Settings(*s)
	}

	for _, o := range parsed.Orchestrators {
		if _, dup := cfg.Orchestrators[o.Name]; dup {
			return nil, fmt.Errorf("orchestrator %q defined twice", o.Name)
		}
		opts, err := optionsMap(o.Options)
		if err != nil {
			return nil, fmt.Errorf("orchestrator %q: %w", o.Name, err)
		}
		oc := OrchestratorConfig{Threads: o.Threads, Options: opts}
		for _, t := range o.Tasks {
			topts, err := optionsMap(t.Options)
			if err != nil {
				return nil, fmt.Errorf("orchestrator %q: task %q: %w", o.Name, t.ID, err)
			}
			oc.Tasks = append(oc.Tasks, TaskConfig{
				ID:        t.ID,
				Type:      t.Type,
				DependsOn: t.DependsOn,
				Options:   topts,
				Exclusive: t.Exclusive,
			})
		}
		cfg.Orchestrators[o.Name] = oc
	}

	for _, p := range parsed.Pipelines {
		if _, dup := cfg.Pipelines[p.Name]; dup {
			return nil, fmt.Errorf("pipeline %q defined twice", p.Name)
		}
		opts, err := optionsMap(p.Options)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", p.Name, err)
		}
		pc := PipelineConfig{Options: opts}
		for _, s := range p.Steps {
			sopts, err := optionsMap(s.Options)
			if err != nil {
				return nil, fmt.Errorf("pipeline %q: step %q: %w", p.Name, s.ID, err)
			}
			name := s.Task
			if name == "" {
				name = s.ID
			}
			pc.Steps = append(pc.Steps, StepConfig{ID: s.ID, Task: name, Options: sopts})
		}
		cfg.Pipelines[p.Name] = pc
	}

	return cfg, nil
}

// optionsMap evaluates an options attribute into the string-keyed form
// accepted by task.FromMap. An absent attribute yields nil.
func optionsMap(expr hcl.Expression) (map[string]any, error) {
	if expr == nil {
		return nil, nil
	}
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	if v.IsNull() {
		return nil, nil
	}
	if ty := v.Type(); !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("options must be an object, got %s", ty.FriendlyName())
	}

	native, err := ctyToNative(v)
	if err != nil {
		return nil, err
	}
	m, _ := native.(map[string]any)
	return m, nil
}

// ctyToNative converts a cty value to plain Go values: strings, float64
// numbers, bools, []any and map[string]any.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, fmt.Errorf("converting number: %w", err)
		}
		return f, nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0)
		for it := v.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			n, err := ctyToNative(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil

	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any)
		for it := v.ElementIterator(); it.Next(); {
			key, elem := it.Element()
			n, err := ctyToNative(elem)
			if err != nil {
				return nil, fmt.Errorf("in %q: %w", key.AsString(), err)
			}
			out[key.AsString()] = n
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported option type %s", ty.FriendlyName())
	}
}
