package api

import "encoding/json"

// ListResponse представляет страницу записей коллекции.
// Записи передаются как сырой JSON: их схема заранее неизвестна.
type ListResponse struct {
	Items      []json.RawMessage `json:"items"`
	Page       int               `json:"page"`
	PerPage    int               `json:"perPage"`
	TotalItems int               `json:"totalItems"` // -1 при skipTotal
	TotalPages int               `json:"totalPages"` // -1 при skipTotal
}

// HealthResponse представляет ответ health endpoint'а
type HealthResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Параметры запроса списка записей.
const (
	ParamPage      = "page"
	ParamPerPage   = "perPage"
	ParamSkipTotal = "skipTotal"
	ParamFilter    = "filter"
	ParamSort      = "sort"
)

// MaxPerPage максимальный размер страницы, который принимает backend
const MaxPerPage = 500
