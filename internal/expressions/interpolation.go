package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

const (
	openToken  = "${{"
	closeToken = "}}"
)

// Interpolator resolves `${{ <jq> }}` tokens inside step parameters.
//
// A string that is exactly one token is replaced by the query's value with
// its type preserved. Tokens embedded in longer strings are rendered as text
// (strings verbatim, everything else as JSON).
type Interpolator struct {
	jq *GoJQEngine
}

// NewInterpolator creates an Interpolator backed by jq.
func NewInterpolator(jq *GoJQEngine) *Interpolator {
	if jq == nil {
		jq = NewGoJQEngine()
	}
	return &Interpolator{jq: jq}
}

// Resolve returns a copy of params with every token resolved. params itself
// is never modified.
func (in *Interpolator) Resolve(ctx context.Context, params map[string]any, scope *Scope) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}
	data := scope.Data()
	out, err := in.resolveValue(ctx, params, data, "")
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

// HasTokens reports whether any string in v contains an interpolation token.
func HasTokens(v any) bool {
	switch val := v.(type) {
	case string:
		return strings.Contains(val, openToken)
	case map[string]any:
		for _, item := range val {
			if HasTokens(item) {
				return true
			}
		}
	case []any:
		for _, item := range val {
			if HasTokens(item) {
				return true
			}
		}
	}
	return false
}

func (in *Interpolator) resolveValue(ctx context.Context, v any, data map[string]any, path string) (any, error) {
	switch val := v.(type) {
	case string:
		return in.resolveString(ctx, val, data, path)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := in.resolveValue(ctx, item, data, joinPath(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := in.resolveValue(ctx, item, data, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return deepCopyAny(v), nil
	}
}

func (in *Interpolator) resolveString(ctx context.Context, s string, data map[string]any, path string) (any, error) {
	if !strings.Contains(s, openToken) {
		return s, nil
	}

	var b strings.Builder
	rest := s
	for {
		idx := strings.Index(rest, openToken)
		if idx == -1 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:idx])
		body := rest[idx+len(openToken):]
		end := strings.Index(body, closeToken)
		if end == -1 {
			return nil, tokenErr(path, "unclosed %s expression", openToken)
		}
		query := strings.TrimSpace(body[:end])
		if strings.Contains(query, openToken) {
			return nil, tokenErr(path, "nested interpolation is not allowed")
		}
		if query == "" {
			return nil, tokenErr(path, "empty interpolation token")
		}

		val, err := in.jq.Evaluate(ctx, query, data)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: %s", path, err.Error()).WithCause(err)
		}

		// The whole string is a single token: keep the value's type.
		if idx == 0 && body[end+len(closeToken):] == "" && b.Len() == 0 {
			return val, nil
		}
		b.WriteString(renderInline(val))
		rest = body[end+len(closeToken):]
	}
	return b.String(), nil
}

func renderInline(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func tokenErr(path, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if path != "" {
		msg = path + ": " + msg
	}
	return schema.NewError(schema.ErrCodeValidation, msg)
}
