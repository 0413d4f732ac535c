package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/query"
)

// columnDownloaded время последнего обновления строки зеркала (локальное)
const columnDownloaded = "_downloaded"

// Encoding способ хранения значения, которое SQLite не хранит нативно
type Encoding int

const (
	EncodingNone Encoding = iota
	EncodingBool          // INTEGER 1/0 в колонке с префиксом query.BoolPrefix
	EncodingJSON          // JSON текст в колонке с префиксом query.JSONPrefix
)

// Column описание одной колонки таблицы зеркала
type Column struct {
	Name     string      // Name имя колонки в SQLite
	Field    string      // Field имя поля записи
	Kind     models.Kind // Kind вид значения, по которому выведена колонка
	Encoding Encoding    // Encoding кодирование значения
}

// SQLType возвращает объявленный тип колонки
func (c Column) SQLType() string {
	switch c.Kind {
	case models.KindInteger, models.KindBool:
		return "INTEGER"
	case models.KindFloat:
		return "REAL"
	case models.KindString, models.KindTime, models.KindJSON:
		return "TEXT"
	default:
		// без affinity: колонка, выведенная из null, примет любое значение
		return ""
	}
}

// Schema неизменяемый упорядоченный список колонок таблицы.
// Вычисляется один раз из первой записи и меняется только пересозданием таблицы.
type Schema struct {
	byField map[string]int
	byName  map[string]int
	Columns []Column
}

// systemColumns колонки, которые есть в каждой таблице зеркала
var systemColumns = []Column{
	{Name: models.FieldID, Field: models.FieldID, Kind: models.KindString},
	{Name: models.FieldCreated, Field: models.FieldCreated, Kind: models.KindString},
	{Name: models.FieldUpdated, Field: models.FieldUpdated, Kind: models.KindString},
	{Name: columnDownloaded, Field: columnDownloaded, Kind: models.KindString},
}

func newSchema(columns []Column) *Schema {
	s := &Schema{
		Columns: columns,
		byField: make(map[string]int, len(columns)),
		byName:  make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		s.byField[c.Field] = i
		s.byName[c.Name] = i
	}
	return s
}

// InferSchema выводит схему из записи-образца: системные колонки, затем
// по одной колонке на поле в алфавитном порядке. Поля неизвестного вида
// и поля с недопустимыми именами пропускаются с записью в лог.
func InferSchema(sample models.Record, logger *slog.Logger) *Schema {
	columns := slices.Clone(systemColumns)

	fields := make([]string, 0, len(sample))
	for field := range sample {
		switch field {
		case models.FieldID, models.FieldCreated, models.FieldUpdated, columnDownloaded:
			continue
		}
		fields = append(fields, field)
	}
	slices.Sort(fields)

	for _, field := range fields {
		if !query.ValidIdentifier(field) {
			logger.Error("skipping field with invalid name", "field", field)
			continue
		}

		kind := models.KindOf(sample[field])
		if kind == models.KindUnknown {
			logger.Error("skipping field of unsupported kind",
				"field", field,
				"type", fmt.Sprintf("%T", sample[field]))
			continue
		}
		col := Column{Name: field, Field: field, Kind: kind}

		switch kind {
		case models.KindBool:
			col.Name = query.BoolPrefix + field
			col.Encoding = EncodingBool
		case models.KindJSON:
			col.Name = query.JSONPrefix + field
			col.Encoding = EncodingJSON
		}

		columns = append(columns, col)
	}

	return newSchema(columns)
}

// Column возвращает колонку поля записи
func (s *Schema) Column(field string) (Column, bool) {
	i, ok := s.byField[field]
	if !ok {
		return Column{}, false
	}
	return s.Columns[i], true
}

// columnByName возвращает колонку по имени колонки SQLite
func (s *Schema) columnByName(name string) (Column, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Column{}, false
	}
	return s.Columns[i], true
}

// Names возвращает имена колонок в порядке схемы
func (s *Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Fits сообщает, что все поля записи есть в схеме.
// Поля, которые InferSchema пропустил бы (недопустимое имя, значение
// неизвестного вида), не хранятся и несовпадением не считаются.
// Возвращает имя первого неизвестного поля.
func (s *Schema) Fits(record models.Record) (string, bool) {
	for field, v := range record {
		if _, ok := s.byField[field]; ok {
			continue
		}
		if !storable(field, v) {
			continue
		}
		return field, false
	}
	return "", true
}

// storable поле получает колонку, только если его имя допустимо
// и вид значения известен
func storable(field string, v any) bool {
	return query.ValidIdentifier(field) && models.KindOf(v) != models.KindUnknown
}

// createTableSQL строит CREATE TABLE для схемы
func (s *Schema) createTableSQL(table string) string {
	defs := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		def := c.Name
		if t := c.SQLType(); t != "" {
			def += " " + t
		}
		if c.Name == models.FieldID {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))
}

// encode превращает значение поля в значение для колонки
func (c Column) encode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch c.Encoding {
	case EncodingBool:
		if b, ok := v.(bool); ok {
			if b {
				return 1, nil
			}
			return 0, nil
		}
	case EncodingJSON:
		_, arg, err := query.LocalValue(c.Field, models.KindJSON, v)
		return arg, err
	}

	kind := models.KindOf(v)
	if kind == models.KindUnknown {
		return nil, fmt.Errorf("field %q: unsupported value %T", c.Field, v)
	}
	_, arg, err := query.LocalValue(c.Field, kind, v)
	return arg, err
}

// decode восстанавливает значение поля из значения колонки
func (c Column) decode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch c.Encoding {
	case EncodingBool:
		switch n := v.(type) {
		case int64:
			return n != 0, nil
		case float64:
			return n != 0, nil
		}
	case EncodingJSON:
		var data []byte
		switch s := v.(type) {
		case string:
			data = []byte(s)
		case []byte:
			data = s
		default:
			return v, nil
		}
		decoded, err := models.DecodeJSONValue(data)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
		return decoded, nil
	}

	if b, ok := v.([]byte); ok {
		return string(b), nil
	}
	return v, nil
}

// loadSchema восстанавливает схему существующей таблицы по PRAGMA table_info.
// Возвращает nil, если таблицы нет.
func loadSchema(ctx context.Context, db *sql.DB, table string) (*Schema, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read table info: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var columns []Column
	for rows.Next() {
		var (
			cid       int
			name      string
			declType  string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &declType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan table info: %w", err)
		}
		columns = append(columns, columnFromInfo(name, declType))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate table info: %w", err)
	}

	if len(columns) == 0 {
		return nil, nil
	}
	return newSchema(columns), nil
}

func columnFromInfo(name, declType string) Column {
	col := Column{Name: name, Field: name}

	switch {
	case strings.HasPrefix(name, query.BoolPrefix):
		col.Field = strings.TrimPrefix(name, query.BoolPrefix)
		col.Kind = models.KindBool
		col.Encoding = EncodingBool
		return col
	case strings.HasPrefix(name, query.JSONPrefix):
		col.Field = strings.TrimPrefix(name, query.JSONPrefix)
		col.Kind = models.KindJSON
		col.Encoding = EncodingJSON
		return col
	}

	switch strings.ToUpper(declType) {
	case "INTEGER":
		col.Kind = models.KindInteger
	case "REAL":
		col.Kind = models.KindFloat
	case "TEXT":
		col.Kind = models.KindString
	default:
		col.Kind = models.KindNull
	}
	return col
}
