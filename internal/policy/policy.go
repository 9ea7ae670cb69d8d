// Package policy evaluates Rego protection rules before resources are
// terminated. A resource the policy protects is reported as ignored.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/sweeper/pkg/resource"
)

// Query is the evaluated document. Policies define `protect` (bool) and
// optionally `reason` (string) in package sweeper.
const Query = "data.sweeper"

// Input is the document policies see as `input`.
type Input struct {
	Kind       string          `json:"kind"`
	ID         string          `json:"id,omitempty"`
	Name       string          `json:"name"`
	Account    string          `json:"account"`
	Region     string          `json:"region"`
	AgeSeconds *int64          `json:"age_seconds,omitempty"`
	CreatedAt  *time.Time      `json:"created_at,omitempty"`
	Limit      int64           `json:"age_limit_seconds"`
	Resource   resource.Record `json:"resource,omitempty"`
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Protect bool
	Reason  string
}

// Engine holds a prepared protection query.
type Engine struct {
	query  rego.PreparedEvalQuery
	tracer trace.Tracer
	// modules lists loaded module names for logging.
	modules []string
}

// New compiles the given modules (name to Rego source).
func New(ctx context.Context, modules map[string]string) (*Engine, error) {
	opts := []func(*rego.Rego){rego.Query(Query)}
	names := make([]string, 0, len(modules))
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
		names = append(names, name)
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}

	return &Engine{
		query:   prepared,
		tracer:  otel.Tracer("sweeper/policy"),
		modules: names,
	}, nil
}

// Load compiles every .rego file found at the given paths. Directories are
// walked recursively.
func Load(ctx context.Context, paths ...string) (*Engine, error) {
	modules := make(map[string]string)
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".rego") {
				return nil
			}
			content, err := os.ReadFile(filepath.Clean(path))
			if err != nil {
				return fmt.Errorf("read policy file %s: %w", path, err)
			}
			modules[path] = string(content)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("load policies from %s: %w", root, err)
		}
	}
	if len(modules) == 0 {
		return nil, fmt.Errorf("no .rego files found in %v", paths)
	}
	return New(ctx, modules)
}

// Modules returns the names of the loaded modules.
func (e *Engine) Modules() []string {
	return e.modules
}

// Evaluate runs the policy against input.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	ctx, span := e.tracer.Start(ctx, "policy.evaluate",
		trace.WithAttributes(
			attribute.String("resource.kind", input.Kind),
			attribute.String("resource.name", input.Name)))
	defer span.End()

	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("evaluate policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, nil
	}

	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, nil
	}

	var d Decision
	if protect, ok := doc["protect"].(bool); ok {
		d.Protect = protect
	}
	if reason, ok := doc["reason"].(string); ok {
		d.Reason = reason
	}
	span.SetAttributes(attribute.Bool("policy.protect", d.Protect))
	return d, nil
}

// Protected evaluates an instance as seen from sess.
func (e *Engine) Protected(ctx context.Context, sess resource.Session, inst *resource.Instance) (bool, string, error) {
	input := Input{
		Kind:     inst.Kind.Kind,
		ID:       inst.ID,
		Name:     inst.Name,
		Account:  sess.Account(),
		Region:   sess.Region(),
		Limit:    int64(inst.Kind.Limit().Seconds()),
		Resource: inst.Raw,
	}
	if age, ok := inst.Age(); ok {
		secs := int64(age.Seconds())
		input.AgeSeconds = &secs
	}
	if created, ok := inst.CreatedAt(); ok {
		input.CreatedAt = &created
	}

	d, err := e.Evaluate(ctx, input)
	if err != nil {
		return false, "", err
	}
	return d.Protect, d.Reason, nil
}
