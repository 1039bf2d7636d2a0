package expressions

import (
	"context"
	"encoding/json"

	"github.com/itchyny/gojq"

	"github.com/rendis/nodeforge/pkg/schema"
)

// DefaultMaxResults caps the outputs collected from one query.
const DefaultMaxResults = 500

// QueryResult holds the outputs of a jq query in emission order.
type QueryResult struct {
	Results   []any `json:"results"`
	Truncated bool  `json:"truncated,omitempty"`
}

// GoJQEngine runs read-only jq queries over the document JSON, for example
// `.nodes[] | select(.type == "KSampler") | .id`. The environment is empty,
// so $ENV and env see nothing.
type GoJQEngine struct {
	programs   *programCache[*gojq.Code]
	maxResults int
}

// NewGoJQEngine returns a jq engine collecting at most maxResults outputs per
// query. Zero selects DefaultMaxResults.
func NewGoJQEngine(maxResults int) *GoJQEngine {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &GoJQEngine{
		programs:   newProgramCache[*gojq.Code](maxCachedPrograms),
		maxResults: maxResults,
	}
}

// Name returns the engine identifier.
func (e *GoJQEngine) Name() string { return "jq" }

// Query runs expression against input, which is first converted to its JSON
// form so structs, typed slices and ints look the way a jq user expects.
// limit narrows the engine's cap for this call when positive.
func (e *GoJQEngine) Query(ctx context.Context, expression string, input any, limit int) (*QueryResult, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidationFailed, "empty jq query")
	}
	code, err := e.programs.get(expression, compileJQ)
	if err != nil {
		return nil, err
	}
	data, err := jqInput(input)
	if err != nil {
		return nil, err
	}
	capN := e.maxResults
	if limit > 0 && limit < capN {
		capN = limit
	}

	res := &QueryResult{Results: []any{}}
	iter := code.RunWithContext(ctx, data)
	for {
		v, ok := iter.Next()
		if !ok {
			return res, nil
		}
		if err, isErr := v.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeEvaluation, "jq query %q failed: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"query": expression})
		}
		if len(res.Results) == capN {
			res.Truncated = true
			return res, nil
		}
		res.Results = append(res.Results, v)
	}
}

// CacheSize reports how many compiled queries are cached.
func (e *GoJQEngine) CacheSize() int { return e.programs.len() }

func compileJQ(expression string) (*gojq.Code, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidationFailed, "jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"query": expression}).
			WithHint("jq syntax, e.g. .nodes[] | select(.type == \"KSampler\")")
	}
	code, err := gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidationFailed, "jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"query": expression})
	}
	return code, nil
}

// jqInput round-trips v through encoding/json. gojq only accepts the generic
// JSON value types.
func jqInput(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "encode jq input").WithCause(err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "decode jq input").WithCause(err)
	}
	return out, nil
}
