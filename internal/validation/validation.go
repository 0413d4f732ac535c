// Package validation checks names that end up in SQL statements and URLs:
// collection names, field names, record ids and user credentials.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// IdentifierPattern допустимое имя коллекции или поля записи.
// Имя подставляется в SQL как идентификатор, поэтому только латиница,
// цифры и подчеркивание, первым символом не цифра.
var IdentifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// RecordIDPattern допустимый id записи (id назначаются backend'ом
// или клиентом при создании записи офлайн)
var RecordIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// UsernamePattern определяет допустимый формат username
var UsernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

// ReservedPrefix префикс служебных таблиц локального кэша
const ReservedPrefix = "_"

// MinPasswordLen минимальная длина пароля пользователя backend'а
const MinPasswordLen = 8

// ValidateCollection проверяет имя коллекции.
// Имена с префиксом "_" зарезервированы под служебные таблицы
// (_operation_queue, _last_sync_times, ...).
func ValidateCollection(name string) error {
	if name == "" {
		return fmt.Errorf("collection name cannot be empty")
	}

	if strings.HasPrefix(name, ReservedPrefix) {
		return fmt.Errorf("collection name %q is reserved", name)
	}

	if !IdentifierPattern.MatchString(name) {
		return fmt.Errorf("collection name %q can only contain letters, numbers and underscores", name)
	}

	return nil
}

// ValidateField проверяет имя поля записи
func ValidateField(name string) error {
	if !IdentifierPattern.MatchString(name) {
		return fmt.Errorf("field name %q can only contain letters, numbers and underscores", name)
	}
	return nil
}

// ValidateRecordID проверяет id записи
func ValidateRecordID(id string) error {
	if !RecordIDPattern.MatchString(id) {
		return fmt.Errorf("invalid record id %q", id)
	}
	return nil
}

// ValidateUsername проверяет username при регистрации.
// Формат: латинские буквы, цифры, нижнее подчеркивание; 3-32 символа.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	if !UsernamePattern.MatchString(username) {
		return fmt.Errorf("username must be 3-32 characters of letters (a-z, A-Z), numbers (0-9) and underscores (_)")
	}

	return nil
}

// ValidatePassword проверяет минимальную длину пароля
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if len(password) < MinPasswordLen {
		return fmt.Errorf("password must be at least %d characters long", MinPasswordLen)
	}

	return nil
}
