package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Системные поля записи, назначаемые удаленным backend'ом.
const (
	FieldID      = "id"
	FieldCreated = "created"
	FieldUpdated = "updated"
)

// DateTimeLayout формат дат backend'а (всегда UTC)
const DateTimeLayout = "2006-01-02 15:04:05.000Z"

// Record представляет одну запись коллекции удаленного backend'а.
// Это набор полей произвольной формы: схема не известна заранее и
// выводится локальным кэшем из первой полученной записи.
type Record map[string]any

// ID возвращает идентификатор записи или пустую строку
func (r Record) ID() string {
	return r.stringField(FieldID)
}

// Created возвращает время создания записи в формате backend'а
func (r Record) Created() string {
	return r.stringField(FieldCreated)
}

// Updated возвращает время последнего обновления записи в формате backend'а
func (r Record) Updated() string {
	return r.stringField(FieldUpdated)
}

func (r Record) stringField(name string) string {
	s, _ := r[name].(string)
	return s
}

// Clone создает поверхностную копию записи
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge возвращает копию записи с перезаписанными полями из fields
func (r Record) Merge(fields map[string]any) Record {
	out := r.Clone()
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// FormatTime приводит время к строковому формату backend'а в UTC
func FormatTime(t time.Time) string {
	return t.UTC().Format(DateTimeLayout)
}

// DecodeRecord разбирает JSON объект в Record, сохраняя различие
// между целыми и дробными числами (json.Number -> int64/float64).
func DecodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}

	return NormalizeRecord(raw), nil
}

// DecodeRecords разбирает JSON массив объектов в []Record
func DecodeRecords(data []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}

	records := make([]Record, 0, len(raw))
	for _, item := range raw {
		records = append(records, NormalizeRecord(item))
	}
	return records, nil
}

// DecodeJSONValue разбирает JSON значение любого вида (список, словарь,
// скаляр) с теми же правилами для чисел, что и DecodeRecord
func DecodeJSONValue(data []byte) (any, error) {
	rec, err := DecodeRecord([]byte(`{"v":` + string(data) + `}`))
	if err != nil {
		return nil, err
	}
	return rec["v"], nil
}

// NormalizeRecord рекурсивно заменяет json.Number на int64 или float64
func NormalizeRecord(raw map[string]any) Record {
	out := make(Record, len(raw))
	for k, v := range raw {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[k] = normalizeValue(inner)
		}
		return m
	case []any:
		list := make([]any, len(val))
		for i, inner := range val {
			list[i] = normalizeValue(inner)
		}
		return list
	default:
		return v
	}
}
