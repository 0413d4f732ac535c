package query

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iudanet/gophsync/internal/models"
)

// RemoteFilter renders the filter (and the optional cursor) as a filter
// string for the remote backend, e.g.
//
//	status = true && created >= "2022-08-01"
//
// The cursor is expanded into the equivalent of the local tuple comparison:
//
//	(updated < "v" || (updated = "v" && id < "i"))
func RemoteFilter(f Filter, sort *Sort, startAfter models.Record) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}

	parts := make([]string, 0, len(f)+1)
	for _, c := range f {
		lit, err := remoteLiteral(clauseKind(c), c.Value)
		if err != nil {
			return "", fmt.Errorf("field %q: %w", c.Field, err)
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", c.Field, c.Op, lit))
	}

	if startAfter != nil {
		if sort == nil {
			return "", ErrCursorWithoutSort
		}
		value, ok := startAfter[sort.Field]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrCursorMissingValue, sort.Field)
		}
		startID := startAfter.ID()
		if startID == "" {
			return "", fmt.Errorf("%w: %q", ErrCursorMissingValue, models.FieldID)
		}

		lit, err := remoteLiteral(models.KindOf(value), value)
		if err != nil {
			return "", fmt.Errorf("cursor field %q: %w", sort.Field, err)
		}
		idLit, _ := remoteLiteral(models.KindString, startID)

		cmp := OpGt
		if sort.Descending {
			cmp = OpLt
		}
		parts = append(parts, fmt.Sprintf("(%s %s %s || (%s = %s && id %s %s))",
			sort.Field, cmp, lit, sort.Field, lit, cmp, idLit))
	}

	return strings.Join(parts, " "+AndToken+" "), nil
}

// RemoteSort renders the sort for the backend: "-field,-id" or "field,id".
func RemoteSort(sort *Sort) string {
	if sort == nil {
		return ""
	}
	if sort.Descending {
		return "-" + sort.Field + ",-id"
	}
	return sort.Field + ",id"
}

// remoteLiteral кодирует значение так же, как LocalValue, но в виде литерала
func remoteLiteral(kind models.Kind, value any) (string, error) {
	switch kind {
	case models.KindBool:
		b, _ := value.(bool)
		return strconv.FormatBool(b), nil
	case models.KindNull:
		return `""`, nil
	case models.KindString:
		return quote(value.(string)), nil
	case models.KindInteger, models.KindFloat:
		return fmt.Sprint(value), nil
	case models.KindTime:
		t, _ := value.(time.Time)
		return quote(models.FormatTime(t)), nil
	case models.KindJSON:
		data, err := json.Marshal(value)
		if err != nil {
			return "", err
		}
		return quote(string(data)), nil
	default:
		return "", fmt.Errorf("%T: %w", value, ErrUnsupportedValue)
	}
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
