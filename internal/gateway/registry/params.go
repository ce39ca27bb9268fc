package registry

import (
	"fmt"
	"math"
	"strings"

	"github.com/fairwaylabs/mcp-gateway/internal/shared/apperr"
)

// validateParams checks raw arguments against the descriptor. It collects
// every offending field so the caller sees all problems at once.
func validateParams(desc Descriptor, raw map[string]any) (map[string]any, error) {
	if raw == nil {
		raw = map[string]any{}
	}

	params := make(map[string]any, len(desc.Params))
	var problems []string

	declared := make(map[string]bool, len(desc.Params))
	for _, spec := range desc.Params {
		declared[spec.Name] = true

		value, present := raw[spec.Name]
		if !present || value == nil {
			if spec.Required {
				problems = append(problems, fmt.Sprintf("%s: required", spec.Name))
				continue
			}
			if spec.Default != nil {
				params[spec.Name] = spec.Default
			}
			continue
		}

		coerced, err := coerce(spec, value)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", spec.Name, err))
			continue
		}
		params[spec.Name] = coerced
	}

	for name := range raw {
		if !declared[name] {
			problems = append(problems, fmt.Sprintf("%s: unknown parameter", name))
		}
	}

	if len(problems) > 0 {
		return nil, apperr.New(apperr.KindInvalidParameters).WithDetail(problems)
	}
	return params, nil
}

// coerce checks a value against one spec. JSON numbers arrive as float64;
// integer specs additionally require a whole value.
func coerce(spec ParamSpec, value any) (any, error) {
	switch spec.Type {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string")
		}
		if strings.TrimSpace(s) == "" && spec.Required {
			return nil, fmt.Errorf("must not be empty")
		}
		return s, nil

	case TypeInteger:
		f, ok := value.(float64)
		if !ok {
			return nil, fmt.Errorf("expected integer")
		}
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("expected integer, got fraction")
		}
		if err := checkBounds(spec, f); err != nil {
			return nil, err
		}
		return int(f), nil

	case TypeNumber:
		f, ok := value.(float64)
		if !ok {
			return nil, fmt.Errorf("expected number")
		}
		if err := checkBounds(spec, f); err != nil {
			return nil, err
		}
		return f, nil

	case TypeBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean")
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unsupported type %q", spec.Type)
	}
}

func checkBounds(spec ParamSpec, f float64) error {
	if spec.Min != nil && f < *spec.Min {
		return fmt.Errorf("must be >= %v", *spec.Min)
	}
	if spec.Max != nil && f > *spec.Max {
		return fmt.Errorf("must be <= %v", *spec.Max)
	}
	return nil
}
