package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// OperationType тип отложенной мутации
type OperationType string

const (
	OperationInsert OperationType = "INSERT"
	OperationUpdate OperationType = "UPDATE"
	OperationDelete OperationType = "DELETE"
)

// Valid проверяет, что тип операции известен
func (t OperationType) Valid() bool {
	switch t {
	case OperationInsert, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// ParamType тег типа сериализованного значения параметра.
// Нужен потому, что param_value хранится строкой и теряет исходный тип.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
	ParamFloat  ParamType = "float"
	ParamBool   ParamType = "bool"
	ParamJSON   ParamType = "json"
	ParamNull   ParamType = "null"
)

// ErrUnsupportedKind значение не может быть сериализовано в параметр очереди
var ErrUnsupportedKind = errors.New("unsupported value kind")

// QueueEntry представляет одну отложенную мутацию (строка _operation_queue).
type QueueEntry struct {
	Collection string        // Collection имя коллекции
	IDToModify string        // IDToModify id изменяемой записи (пусто для INSERT)
	Type       OperationType // Type INSERT, UPDATE или DELETE
	Params     []QueueParam  // Params поля мутации
	ID         int64         // ID локальный монотонный идентификатор
	Created    int64         // Created время постановки в очередь (мс), только для упорядочивания
}

// QueueParam представляет одно поле отложенной мутации (строка _operation_queue_params).
type QueueParam struct {
	Key         string    // Key имя поля
	Value       string    // Value сериализованное значение
	Type        ParamType // Type тег исходного типа значения
	OperationID int64     // OperationID владелец параметра
}

// EncodeParam сериализует значение поля в параметр очереди.
// Возвращает ErrUnsupportedKind для значений неизвестного вида.
func EncodeParam(key string, v any) (QueueParam, error) {
	p := QueueParam{Key: key}

	switch KindOf(v) {
	case KindNull:
		p.Type = ParamNull
	case KindString:
		p.Type = ParamString
		p.Value = v.(string)
	case KindBool:
		p.Type = ParamBool
		p.Value = strconv.FormatBool(v.(bool))
	case KindInteger:
		p.Type = ParamInt
		p.Value = fmt.Sprint(v)
	case KindFloat:
		p.Type = ParamFloat
		p.Value = fmt.Sprint(v)
	case KindTime:
		p.Type = ParamString
		p.Value = FormatTime(v.(time.Time))
	case KindJSON:
		data, err := json.Marshal(v)
		if err != nil {
			return QueueParam{}, fmt.Errorf("failed to marshal param %q: %w", key, err)
		}
		p.Type = ParamJSON
		p.Value = string(data)
	default:
		return QueueParam{}, fmt.Errorf("param %q (%T): %w", key, v, ErrUnsupportedKind)
	}

	return p, nil
}

// Decode восстанавливает исходное значение параметра по его тегу
func (p QueueParam) Decode() (any, error) {
	switch p.Type {
	case ParamNull:
		return nil, nil
	case ParamString:
		return p.Value, nil
	case ParamBool:
		return strconv.ParseBool(p.Value)
	case ParamInt:
		i, err := strconv.ParseInt(p.Value, 10, 64)
		if err == nil {
			return i, nil
		}
		// uint64 выше MaxInt64 пишется тем же типом параметра
		if u, uerr := strconv.ParseUint(p.Value, 10, 64); uerr == nil {
			return u, nil
		}
		return nil, err
	case ParamFloat:
		return strconv.ParseFloat(p.Value, 64)
	case ParamJSON:
		v, err := DecodeJSONValue([]byte(p.Value))
		if err != nil {
			return nil, fmt.Errorf("failed to decode json param %q: %w", p.Key, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("param %q has unknown type %q", p.Key, p.Type)
	}
}

// Fields собирает поля мутации из параметров
func (e *QueueEntry) Fields() (map[string]any, error) {
	fields := make(map[string]any, len(e.Params))
	for _, p := range e.Params {
		v, err := p.Decode()
		if err != nil {
			return nil, err
		}
		fields[p.Key] = v
	}
	return fields, nil
}

// TargetID возвращает id записи, которой касается мутация.
// Для INSERT id передается в параметрах (create-with-explicit-id).
func (e *QueueEntry) TargetID() string {
	if e.IDToModify != "" {
		return e.IDToModify
	}
	for _, p := range e.Params {
		if p.Key == FieldID {
			return p.Value
		}
	}
	return ""
}
