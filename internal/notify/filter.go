package notify

import (
	"strings"

	"github.com/google/cel-go/cel"
)

// filter is a compiled CEL predicate over a notification. The zero value
// matches everything.
type filter struct {
	prog    cel.Program
	enabled bool
}

// compileFilter compiles expr against the notification variables:
// type, priority, job_id (strings), payload (dyn) and timestamp_ms (int).
func compileFilter(expr string) (filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("type", cel.StringType),
		cel.Variable("priority", cel.StringType),
		cel.Variable("job_id", cel.StringType),
		cel.Variable("payload", cel.DynType),
		cel.Variable("timestamp_ms", cel.IntType),
	)
	if err != nil {
		return filter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return filter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return filter{}, iss2.Err()
	}
	if !checked.OutputType().IsExactType(cel.BoolType) {
		return filter{}, errNonBoolFilter
	}
	prog, err := env.Program(checked)
	if err != nil {
		return filter{}, err
	}
	return filter{prog: prog, enabled: true}, nil
}

// match evaluates the filter. Evaluation errors count as no match.
func (f filter) match(n Notification) bool {
	if !f.enabled {
		return true
	}
	payload := map[string]any{}
	for k, v := range n.Payload {
		payload[k] = v
	}
	out, _, err := f.prog.Eval(map[string]any{
		"type":         string(n.Type),
		"priority":     string(n.Priority),
		"job_id":       n.JobID,
		"payload":      payload,
		"timestamp_ms": n.Timestamp.UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
