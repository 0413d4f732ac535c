package models

import (
	"encoding/json"
	"reflect"
	"time"
)

// Kind вид значения поля записи. Определяет тип колонки в локальном
// кэше, кодирование параметров очереди и параметров запросов.
type Kind int

const (
	KindUnknown Kind = iota
	KindNull
	KindString
	KindInteger
	KindFloat
	KindBool
	KindJSON // списки и словари
	KindTime
)

var kindNames = map[Kind]string{
	KindUnknown: "unknown",
	KindNull:    "null",
	KindString:  "string",
	KindInteger: "integer",
	KindFloat:   "float",
	KindBool:    "bool",
	KindJSON:    "json",
	KindTime:    "time",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// KindOf определяет вид значения во время выполнения
func KindOf(v any) Kind {
	switch val := v.(type) {
	case nil:
		return KindNull
	case string:
		return KindString
	case bool:
		return KindBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindInteger
	case float32, float64:
		return KindFloat
	case json.Number:
		if _, err := val.Int64(); err == nil {
			return KindInteger
		}
		return KindFloat
	case time.Time:
		return KindTime
	case map[string]any, []any:
		return KindJSON
	}

	// Типизированные слайсы и словари ([]string, map[string]int, ...)
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return KindJSON
	}

	return KindUnknown
}
