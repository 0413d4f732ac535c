package query

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/iudanet/gophsync/internal/models"
)

// Statement результат трансляции фильтра для локального SQLite зеркала
type Statement struct {
	Args    []any  // Args параметры в порядке плейсхолдеров
	Where   string // Where условие без ключевого слова WHERE
	OrderBy string // OrderBy готовое "ORDER BY ..." или пусто
	Limit   int    // Limit 0 означает без ограничения
	Sort    *Sort  // Sort исходная сортировка, колонку уточняет хранилище
}

// WithSortColumn пересобирает ORDER BY под фактическую колонку сортировки.
// Нужна, когда вид поля известен только из схемы таблицы (bool, json).
func (s Statement) WithSortColumn(column string) Statement {
	if s.Sort == nil || column == "" {
		return s
	}
	s.OrderBy = s.Sort.orderBy(column)
	return s
}

// SQL собирает SELECT для таблицы. Имя таблицы должно быть проверено вызывающим.
func (s Statement) SQL(table string) string {
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(table)
	if s.Where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(s.Where)
	}
	if s.OrderBy != "" {
		b.WriteString(" ")
		b.WriteString(s.OrderBy)
	}
	if s.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", s.Limit)
	}
	return b.String()
}

// CountSQL собирает SELECT COUNT(*) с тем же условием
func (s Statement) CountSQL(table string) string {
	q := "SELECT COUNT(*) FROM " + table
	if s.Where != "" {
		q += " WHERE " + s.Where
	}
	return q
}

// Translate переводит фильтр, сортировку, курсор и лимит в параметризованный
// запрос к локальному зеркалу.
//
// Клаузы с булевым значением адресуют колонку с префиксом BoolPrefix.
// Курсор startAfter превращается в сравнение кортежей
// (sortColumn, id) < (?, ?) для убывающей сортировки и > для возрастающей.
func Translate(f Filter, sort *Sort, startAfter models.Record, limit int) (Statement, error) {
	if err := f.Validate(); err != nil {
		return Statement{}, err
	}

	conds := make([]string, 0, len(f)+1)
	args := make([]any, 0, len(f)+2)

	for _, c := range f {
		column, arg, err := LocalValue(c.Field, clauseKind(c), c.Value)
		if err != nil {
			return Statement{}, err
		}
		if arg == "" {
			// пустое значение совпадает и с NULL, как на backend'е
			column = "COALESCE(" + column + ", '')"
		}
		conds = append(conds, fmt.Sprintf("%s %s ?", column, c.Op))
		args = append(args, arg)
	}

	sortColumn := ""
	if sort != nil {
		if !ValidIdentifier(sort.Field) {
			return Statement{}, fmt.Errorf("sort field %q: %w", sort.Field, ErrInvalidIdentifier)
		}
		sortColumn = sort.Field
	}

	if startAfter != nil {
		if sort == nil {
			return Statement{}, ErrCursorWithoutSort
		}
		value, ok := startAfter[sort.Field]
		if !ok {
			return Statement{}, fmt.Errorf("%w: %q", ErrCursorMissingValue, sort.Field)
		}
		startID := startAfter.ID()
		if startID == "" {
			return Statement{}, fmt.Errorf("%w: %q", ErrCursorMissingValue, models.FieldID)
		}

		column, arg, err := LocalValue(sort.Field, models.KindOf(value), value)
		if err != nil {
			return Statement{}, err
		}
		sortColumn = column

		cmp := ">"
		if sort.Descending {
			cmp = "<"
		}
		conds = append(conds, fmt.Sprintf("(%s, id) %s (?, ?)", column, cmp))
		args = append(args, arg, startID)
	}

	st := Statement{
		Where: strings.Join(conds, " AND "),
		Args:  args,
		Limit: limit,
	}
	if sort != nil {
		sc := *sort
		st.Sort = &sc
		st.OrderBy = sc.orderBy(sortColumn)
	}

	return st, nil
}

// LocalValue возвращает имя колонки локального зеркала и значение для
// привязки к плейсхолдеру.
//   - bool: колонка BoolPrefix+field, значение 1 или 0
//   - time.Time: строка UTC в формате backend'а
//   - списки и словари: колонка JSONPrefix+field, JSON текст
//   - nil: пустая строка
func LocalValue(field string, kind models.Kind, value any) (string, any, error) {
	switch kind {
	case models.KindBool:
		b, _ := value.(bool)
		if b {
			return BoolPrefix + field, 1, nil
		}
		return BoolPrefix + field, 0, nil
	case models.KindNull:
		return field, "", nil
	case models.KindTime:
		t, _ := value.(time.Time)
		return field, models.FormatTime(t), nil
	case models.KindJSON:
		data, err := json.Marshal(value)
		if err != nil {
			return "", nil, fmt.Errorf("field %q: %w", field, err)
		}
		return JSONPrefix + field, string(data), nil
	case models.KindString, models.KindInteger, models.KindFloat:
		if n, ok := value.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				return field, i, nil
			}
			f, _ := n.Float64()
			return field, f, nil
		}
		return field, value, nil
	default:
		return "", nil, fmt.Errorf("field %q (%T): %w", field, value, ErrUnsupportedValue)
	}
}

func clauseKind(c Clause) models.Kind {
	if c.Kind == models.KindUnknown {
		return models.KindOf(c.Value)
	}
	return c.Kind
}
