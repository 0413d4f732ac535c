package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/iudanet/gophsync/internal/models"
)

// parseValue разбирает значение аргумента командной строки:
// true/false, целые, дробные, JSON списки и словари, строки в кавычках.
// Остальное считается строкой как есть.
func parseValue(raw string) (any, error) {
	switch raw {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}

	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f, nil
	}

	if len(raw) >= 2 {
		switch {
		case raw[0] == '{' || raw[0] == '[':
			v, err := models.DecodeJSONValue([]byte(raw))
			if err != nil {
				return nil, fmt.Errorf("invalid JSON value %q: %w", raw, err)
			}
			return v, nil
		case raw[0] == '"' && raw[len(raw)-1] == '"':
			s, err := strconv.Unquote(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid quoted value %q: %w", raw, err)
			}
			return s, nil
		}
	}
	return raw, nil
}

// parseFields разбирает аргументы вида key=value
func parseFields(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q, expected key=value", arg)
		}
		v, err := parseValue(raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		fields[key] = v
	}
	return fields, nil
}

// parseParams разбирает значения плейсхолдеров фильтра
func parseParams(raw []string) ([]any, error) {
	params := make([]any, 0, len(raw))
	for _, r := range raw {
		v, err := parseValue(r)
		if err != nil {
			return nil, err
		}
		params = append(params, v)
	}
	return params, nil
}

// parseSort "-rank" означает rank по убыванию
func parseSort(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "-") {
		return raw[1:], true
	}
	return strings.TrimPrefix(raw, "+"), false
}

// printRecord печатает запись одной строкой JSON
func (c *Cli) printRecord(rec models.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	c.io.Println(string(data))
	return nil
}
