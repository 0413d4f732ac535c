// Package query translates the small filter/sort/cursor algebra used by the
// cache into parameterized SQL for the local mirror and into filter strings
// understood by the remote backend. Both renderings are produced from the
// same clause list so that the two sources return identical logical results.
package query

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/iudanet/gophsync/internal/models"
)

// Op оператор сравнения клаузы фильтра
type Op string

const (
	OpEq  Op = "="
	OpNeq Op = "!="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
)

// AndToken разделитель клауз в строковой форме фильтра
const AndToken = "&&"

// Префиксы колонок для видов значений, которые SQLite не хранит нативно.
const (
	BoolPrefix = "_offline_bool_"
	JSONPrefix = "_offline_json_"
)

var (
	// ErrCursorWithoutSort startAfter передан без сортировки
	ErrCursorWithoutSort = errors.New("startAfter requires a sort")

	// ErrCursorMissingValue в startAfter нет значения колонки сортировки или id
	ErrCursorMissingValue = errors.New("startAfter lacks the sort column value")

	// ErrInvalidFilter строка фильтра не разбирается
	ErrInvalidFilter = errors.New("invalid filter expression")

	// ErrInvalidIdentifier недопустимое имя колонки или таблицы
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrUnsupportedValue значение неизвестного вида в параметрах
	ErrUnsupportedValue = errors.New("unsupported parameter value")
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier проверяет, что имя можно безопасно подставить в SQL
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// Valid reports whether op is one of the supported comparison operators.
func (o Op) Valid() bool {
	switch o {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Clause одна клауза конъюнкции. Вид значения хранится явно, поэтому
// перезапись колонок (bool-префикс) не зависит от позиции параметра.
type Clause struct {
	Value any
	Field string
	Op    Op
	Kind  models.Kind
}

// Where создает клаузу и определяет вид значения
func Where(field string, op Op, value any) Clause {
	return Clause{Field: field, Op: op, Value: value, Kind: models.KindOf(value)}
}

// Filter упорядоченная конъюнкция клауз
type Filter []Clause

// And собирает фильтр из клауз
func And(clauses ...Clause) Filter {
	return Filter(clauses)
}

// Validate проверяет имена полей и операторы всех клауз
func (f Filter) Validate() error {
	for i, c := range f {
		if !ValidIdentifier(c.Field) {
			return fmt.Errorf("clause %d field %q: %w", i, c.Field, ErrInvalidIdentifier)
		}
		if !c.Op.Valid() {
			return fmt.Errorf("clause %d operator %q: %w", i, c.Op, ErrInvalidFilter)
		}
	}
	return nil
}

// Sort сортировка по одной колонке
type Sort struct {
	Field      string
	Descending bool
}

// Direction возвращает ASC или DESC
func (s Sort) Direction() string {
	if s.Descending {
		return "DESC"
	}
	return "ASC"
}

// id как вторичный ключ делает порядок совпадающим с курсором
func (s Sort) orderBy(column string) string {
	return fmt.Sprintf("ORDER BY %s %s, id %s", column, s.Direction(), s.Direction())
}

var clausePattern = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*(!=|>=|<=|=|>|<)\s*\?\s*$`)

// ParseFilter разбирает строковую форму фильтра вида
// "status = ? && created >= ?" и связывает параметры по порядку.
// Количество клауз должно совпадать с количеством параметров.
func ParseFilter(expr string, params ...any) (Filter, error) {
	if strings.TrimSpace(expr) == "" {
		if len(params) > 0 {
			return nil, fmt.Errorf("%w: %d params for empty expression", ErrInvalidFilter, len(params))
		}
		return Filter{}, nil
	}

	parts := strings.Split(expr, AndToken)
	if len(parts) != len(params) {
		return nil, fmt.Errorf("%w: %d clauses but %d params", ErrInvalidFilter, len(parts), len(params))
	}

	filter := make(Filter, 0, len(parts))
	for i, part := range parts {
		m := clausePattern.FindStringSubmatch(part)
		if m == nil {
			return nil, fmt.Errorf("%w: clause %q", ErrInvalidFilter, strings.TrimSpace(part))
		}
		filter = append(filter, Where(m[1], Op(m[2]), params[i]))
	}

	return filter, nil
}
