package mcp

import (
	"context"
	"fmt"
	"time"

	"battlenerd/internal/facts"
)

// ReadFactsTool reads buffered facts for a predicate.
type ReadFactsTool struct {
	engine *facts.Engine
}

func (t *ReadFactsTool) Name() string { return "read-facts" }
func (t *ReadFactsTool) Description() string {
	return `Read buffered facts for one predicate, oldest first.

AVAILABLE PREDICATES:
- battle_state(Session, Active, MoveCount, Ts)
- decision_request(Session, Trigger, Ts)
- decision_result(Session, Move, Matched, Ts)
- move_applied(Session, Move, Ts)
- advisor_error(Session, Detail, Ts)
- chat_message(Session, Text, Ts)

Use this to audit what the pipeline saw and decided for a battle.`
}
func (t *ReadFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate name to read",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Max facts returned (default 50, newest kept)",
			},
		},
		"required": []string{"predicate"},
	}
}
func (t *ReadFactsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return nil, fmt.Errorf("predicate is required")
	}
	limit := getIntArg(args, "limit", 50)

	matched := t.engine.FactsByPredicate(predicate)
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return map[string]interface{}{
		"predicate": predicate,
		"count":     len(matched),
		"facts":     matched,
	}, nil
}

// QueryFactsTool runs a Mangle query with variable binding.
type QueryFactsTool struct {
	engine *facts.Engine
}

func (t *QueryFactsTool) Name() string { return "query-facts" }
func (t *QueryFactsTool) Description() string {
	return `Run a Mangle query against the fact store.

EXAMPLES:
- decision_result(Session, Move, Matched, Ts).
- advisor_error("abc-123", Detail, Ts).

Variables (capitalized) bind to values; constants filter. Derived predicates
from the loaded schema are queryable too.

Returns: {results: [{Var: value, ...}]}.`
}
func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Mangle query, e.g. decision_result(S, M, Matched, Ts).",
			},
		},
		"required": []string{"query"},
	}
}
func (t *QueryFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query := getStringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	results, err := t.engine.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"query":   query,
		"count":   len(results),
		"results": results,
	}, nil
}

// QueryTemporalTool returns facts for a predicate within a time window.
type QueryTemporalTool struct {
	engine *facts.Engine
}

func (t *QueryTemporalTool) Name() string { return "query-temporal" }
func (t *QueryTemporalTool) Description() string {
	return `Read facts for a predicate restricted to a time window.

Times are RFC3339 strings; omit either bound to leave it open. Useful for
questions like "what did the advisor decide in the last minute".`
}
func (t *QueryTemporalTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate name",
			},
			"after": map[string]interface{}{
				"type":        "string",
				"description": "RFC3339 lower bound (exclusive)",
			},
			"before": map[string]interface{}{
				"type":        "string",
				"description": "RFC3339 upper bound (exclusive)",
			},
		},
		"required": []string{"predicate"},
	}
}
func (t *QueryTemporalTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return nil, fmt.Errorf("predicate is required")
	}

	var after, before time.Time
	if raw := getStringArg(args, "after"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("parse after: %w", err)
		}
		after = parsed
	}
	if raw := getStringArg(args, "before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("parse before: %w", err)
		}
		before = parsed
	}

	matched := t.engine.QueryTemporal(predicate, after, before)
	return map[string]interface{}{
		"predicate": predicate,
		"count":     len(matched),
		"facts":     matched,
	}, nil
}
