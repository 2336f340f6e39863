// Package validator checks index events before they reach an index. It
// enforces the event shape per action and size limits, and returns
// per-field error details.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
)

const (
	maxIDLength    = 512
	maxItems       = 10000
	maxFieldValues = 1024
	maxValueLength = 1048576
)

// ValidationError holds per-field validation failure messages. It
// classifies as a data error.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidOperation
}

// ValidateIndexEvent checks that ev is well formed for its action.
func ValidateIndexEvent(ev *ingestion.IndexEvent) error {
	errs := make(map[string]string)
	if strings.TrimSpace(ev.Index) == "" {
		errs["index"] = "index is required"
	}

	switch ev.Action {
	case ingestion.ActionUpsert, ingestion.ActionRebuild:
		if ev.Action == ingestion.ActionUpsert && len(ev.Items) == 0 {
			errs["items"] = "upsert needs at least one item"
		}
		if len(ev.Items) > maxItems {
			errs["items"] = fmt.Sprintf("at most %d items per event", maxItems)
		}
		for i, item := range ev.Items {
			key := fmt.Sprintf("items[%d]", i)
			if msg := checkID(item.ID); msg != "" {
				errs[key+".id"] = msg
			}
			for name, values := range item.Fields {
				if strings.HasPrefix(name, "__") || name == "" {
					errs[key+".fields"] = fmt.Sprintf("field name %q is reserved or empty", name)
				}
				if len(values) > maxFieldValues {
					errs[key+".fields."+name] = fmt.Sprintf("at most %d values", maxFieldValues)
				}
				for _, v := range values {
					if len(v) > maxValueLength {
						errs[key+".fields."+name] = fmt.Sprintf("values must be at most %d bytes", maxValueLength)
					}
				}
			}
		}
	case ingestion.ActionDelete:
		if len(ev.IDs) == 0 {
			errs["ids"] = "delete needs at least one id"
		}
		for i, id := range ev.IDs {
			if msg := checkID(id); msg != "" {
				errs[fmt.Sprintf("ids[%d]", i)] = msg
			}
		}
	case ingestion.ActionDeleteCategory:
		if strings.TrimSpace(ev.Category) == "" {
			errs["category"] = "category is required"
		}
	case "":
		errs["action"] = "action is required"
	default:
		errs["action"] = fmt.Sprintf("unknown action %q", ev.Action)
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func checkID(id string) string {
	switch {
	case strings.TrimSpace(id) == "":
		return "id is required"
	case len(id) > maxIDLength:
		return fmt.Sprintf("id must be at most %d characters", maxIDLength)
	}
	return ""
}
