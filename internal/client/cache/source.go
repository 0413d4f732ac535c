package cache

import (
	"fmt"
	"strings"
)

// Source откуда читаются записи
type Source int

const (
	// SourceAny сервер, при любой ошибке сервера локальное зеркало
	SourceAny Source = iota
	// SourceServer только сервер, ошибка возвращается вызывающему
	SourceServer
	// SourceCache только локальное зеркало
	SourceCache
)

func (s Source) String() string {
	switch s {
	case SourceServer:
		return "server"
	case SourceCache:
		return "cache"
	default:
		return "any"
	}
}

// ParseSource разбирает имя источника; пустая строка означает any
func ParseSource(name string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "any":
		return SourceAny, nil
	case "server":
		return SourceServer, nil
	case "cache":
		return SourceCache, nil
	}
	return SourceAny, fmt.Errorf("unknown source %q (want any, server or cache)", name)
}
