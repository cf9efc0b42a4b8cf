// Package guard evaluates a Rego protection policy that withholds resources
// from deletion.
package guard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/wipeit/pkg/resource"
)

// Query is the rule a protection policy must define. It evaluates to a set of
// reasons; any reason protects the resource.
const Query = "data.wipeit.protect"

// Input is the document a policy sees as `input`.
type Input struct {
	Kind       resource.Kind     `json:"kind"`
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Account    string            `json:"account,omitempty"`
	Region     string            `json:"region,omitempty"`
}

// Skip is a resource withheld by the policy.
type Skip struct {
	Ref     resource.Ref `json:"ref"`
	Reasons []string     `json:"reasons"`
}

// Guard holds a compiled protection policy.
type Guard struct {
	query  rego.PreparedEvalQuery
	tracer trace.Tracer
}

// New compiles a policy module.
func New(ctx context.Context, name, module string) (*Guard, error) {
	prepared, err := rego.New(
		rego.Query(Query),
		rego.Module(name, module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile policy %s: %w", name, err)
	}
	return &Guard{query: prepared, tracer: otel.Tracer("wipeit/guard")}, nil
}

// LoadFile compiles the policy at path.
func LoadFile(ctx context.Context, path string) (*Guard, error) {
	code, err := os.ReadFile(path) // #nosec G304 -- policy path comes from config
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return New(ctx, filepath.Base(path), string(code))
}

// Check returns the reasons protecting the resource described by in. An
// empty result means the resource may be deleted.
func (g *Guard) Check(ctx context.Context, in Input) ([]string, error) {
	ctx, span := g.tracer.Start(ctx, "guard.check", trace.WithAttributes(
		attribute.String("resource.kind", string(in.Kind)),
		attribute.String("resource.id", in.ID),
	))
	defer span.End()

	rs, err := g.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return nil, fmt.Errorf("evaluate policy: %w", err)
	}

	var reasons []string
	for _, result := range rs {
		for _, expr := range result.Expressions {
			reasons = append(reasons, reasonsFrom(expr.Value)...)
		}
	}
	sort.Strings(reasons)
	return reasons, nil
}

func reasonsFrom(v interface{}) []string {
	switch val := v.(type) {
	case []interface{}:
		var out []string
		for _, item := range val {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case bool:
		if val {
			return []string{"protected by policy"}
		}
	case string:
		if val != "" {
			return []string{val}
		}
	}
	return nil
}

// Filter splits sel into the ids the policy allows and the ones it withholds.
// inv supplies attributes when a selected id was discovered. A policy that
// fails to evaluate withholds the resource. Ids of unsupported kinds pass
// through unevaluated; no handler will touch them.
func (g *Guard) Filter(ctx context.Context, scope resource.Scope, sel resource.Selection, inv resource.Inventory) (resource.Selection, []Skip) {
	allowed := resource.Selection{}
	var skipped []Skip

	for _, req := range sel.Requests() {
		if !req.Kind.Valid() {
			allowed[req.Kind] = append(allowed[req.Kind], req.IDs...)
			continue
		}
		for _, id := range req.IDs {
			in := Input{Kind: req.Kind, ID: id, Account: scope.Account, Region: scope.Region}
			if d, ok := inv.Find(req.Kind, id); ok {
				in.Name = d.DisplayName
				in.Attributes = d.Attributes
			}

			reasons, err := g.Check(ctx, in)
			if err != nil {
				log.Error().Err(err).Str("kind", string(req.Kind)).Str("id", id).Msg("protection policy failed, withholding resource")
				reasons = []string{err.Error()}
			}
			if len(reasons) > 0 {
				skipped = append(skipped, Skip{Ref: resource.Ref{Kind: req.Kind, ID: id}, Reasons: reasons})
				continue
			}
			allowed[req.Kind] = append(allowed[req.Kind], id)
		}
	}
	return allowed, skipped
}

// Refs lists the references of skips.
func Refs(skips []Skip) []resource.Ref {
	out := make([]resource.Ref, 0, len(skips))
	for _, s := range skips {
		out = append(out, s.Ref)
	}
	return out
}
