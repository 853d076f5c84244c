package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/kaptinlin/jsonrepair"
	"github.com/saathi-labs/saathi/internal/customer"
)

// directivePattern is the strict grammar for an inline tool directive:
// <tool:NAME> or <tool:NAME{json arguments}>.
var directivePattern = regexp.MustCompile(`<tool:(\w+)\s*(\{.*?\})?>`)

// Resolve scans generated text for a tool directive and executes it.
//
// Zero directives: text is returned unchanged. More than one directive:
// the output is rejected deterministically — all spans are left
// untouched and nothing executes. Exactly one: the span is replaced by
// the rendered result payload (or an inline error payload; a failing
// tool never fails the turn). executed is the tool name when a
// registered tool ran, "" otherwise.
func (r *Registry) Resolve(ctx context.Context, text string, cust customer.Context) (final string, executed string) {
	matches := directivePattern.FindAllStringSubmatchIndex(text, 2)
	switch len(matches) {
	case 0:
		return text, ""
	case 1:
	default:
		r.logger.Warn("multiple tool directives in one reply, ignoring all")
		return text, ""
	}

	loc := matches[0]
	name := text[loc[2]:loc[3]]
	rawArgs := ""
	if loc[4] >= 0 {
		rawArgs = text[loc[4]:loc[5]]
	}

	tool, ok := r.Get(name)
	if !ok {
		r.logger.Warn("unknown tool directive", "tool", name)
		return text[:loc[0]] + fmt.Sprintf("[unknown tool %s]", name) + text[loc[1]:], ""
	}

	args := r.parseArgs(name, rawArgs)

	result, err := tool.Handler(ctx, args, cust)
	if err != nil {
		r.logger.Warn("tool execution failed", "tool", name, "error", err)
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		return text[:loc[0]] + renderResult(name, payload) + text[loc[1]:], name
	}

	payload, err := json.Marshal(result)
	if err != nil {
		payload = []byte(`{"error":"unrenderable result"}`)
	}

	r.logger.Info("tool executed", "tool", name)
	return text[:loc[0]] + renderResult(name, payload) + text[loc[1]:], name
}

// parseArgs decodes the inline argument block. Models frequently emit
// slightly broken JSON (single quotes, trailing commas), so a failed
// parse goes through jsonrepair before giving up. Anything still
// unparseable degrades to an empty argument set.
func (r *Registry) parseArgs(name, raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err == nil {
		if err := json.Unmarshal([]byte(repaired), &args); err == nil {
			r.logger.Debug("tool arguments repaired", "tool", name)
			return args
		}
	}

	r.logger.Warn("unparseable tool arguments, using empty set", "tool", name, "raw", raw)
	return map[string]any{}
}

func renderResult(name string, payload []byte) string {
	return fmt.Sprintf("[Tool %s result]: %s", name, payload)
}
