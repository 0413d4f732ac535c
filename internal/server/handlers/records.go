package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/query"
	"github.com/iudanet/gophsync/internal/server/storage"
	"github.com/iudanet/gophsync/internal/validation"
	"github.com/iudanet/gophsync/pkg/api"
)

// DefaultPerPage размер страницы, если perPage не задан
const DefaultPerPage = 30

// RecordsHandler обрабатывает CRUD запросы к записям коллекций
type RecordsHandler struct {
	logger  *slog.Logger
	records storage.RecordStorage
	now     func() time.Time
}

// NewRecordsHandler создает новый handler для записей
func NewRecordsHandler(logger *slog.Logger, records storage.RecordStorage) *RecordsHandler {
	return &RecordsHandler{
		logger:  logger,
		records: records,
		now:     time.Now,
	}
}

// collection извлекает и проверяет имя коллекции из пути
func (h *RecordsHandler) collection(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "collection")
	if err := validation.ValidateCollection(name); err != nil {
		SendError(w, h.logger, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return name, true
}

// List обрабатывает GET /api/collections/{collection}/records
func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	collection, ok := h.collection(w, r)
	if !ok {
		return
	}

	params := r.URL.Query()

	page, err := intParam(params.Get(api.ParamPage), 1)
	if err != nil || page < 1 {
		SendError(w, h.logger, "invalid page", http.StatusBadRequest)
		return
	}
	perPage, err := intParam(params.Get(api.ParamPerPage), DefaultPerPage)
	if err != nil || perPage < 1 {
		SendError(w, h.logger, "invalid perPage", http.StatusBadRequest)
		return
	}
	perPage = min(perPage, api.MaxPerPage)

	skipTotal, _ := strconv.ParseBool(params.Get(api.ParamSkipTotal))

	q := storage.ListQuery{
		Offset:    (page - 1) * perPage,
		Limit:     perPage,
		WithTotal: !skipTotal,
	}

	if filter := params.Get(api.ParamFilter); filter != "" {
		q.Filter, err = query.ParseRemote(filter)
		if err != nil {
			h.logger.WarnContext(ctx, "invalid filter", slog.String("filter", filter), slog.Any("error", err))
			SendError(w, h.logger, "invalid filter: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	q.Sort, err = parseSort(params.Get(api.ParamSort))
	if err != nil {
		SendError(w, h.logger, err.Error(), http.StatusBadRequest)
		return
	}

	records, total, err := h.records.ListRecords(ctx, collection, q)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list records",
			slog.String("collection", collection), slog.Any("error", err))
		SendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := api.ListResponse{
		Items:      make([]json.RawMessage, 0, len(records)),
		Page:       page,
		PerPage:    perPage,
		TotalItems: -1,
		TotalPages: -1,
	}
	if !skipTotal {
		resp.TotalItems = total
		resp.TotalPages = (total + perPage - 1) / perPage
	}
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to encode record", slog.String("id", rec.ID()), slog.Any("error", err))
			SendError(w, h.logger, "internal server error", http.StatusInternalServerError)
			return
		}
		resp.Items = append(resp.Items, data)
	}

	SendJSON(w, h.logger, resp, http.StatusOK)
}

// View обрабатывает GET /api/collections/{collection}/records/{id}
func (h *RecordsHandler) View(w http.ResponseWriter, r *http.Request) {
	collection, ok := h.collection(w, r)
	if !ok {
		return
	}

	rec, err := h.records.GetRecord(r.Context(), collection, chi.URLParam(r, "id"))
	if err != nil {
		h.sendStorageError(w, r, err)
		return
	}
	SendJSON(w, h.logger, rec, http.StatusOK)
}

// Create обрабатывает POST /api/collections/{collection}/records.
// Тело может содержать id: клиент назначает его при создании офлайн.
func (h *RecordsHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	collection, ok := h.collection(w, r)
	if !ok {
		return
	}

	fields, ok := h.decodeFields(w, r)
	if !ok {
		return
	}

	id := models.NewRecordID()
	if raw, present := fields[models.FieldID]; present {
		s, isString := raw.(string)
		if !isString || validation.ValidateRecordID(s) != nil {
			SendFieldError(w, h.logger, "failed to create record", http.StatusBadRequest,
				map[string]any{models.FieldID: "invalid record id"})
			return
		}
		id = s
	}

	now := models.FormatTime(h.now())
	rec := models.Record(fields).Clone()
	rec[models.FieldID] = id
	rec[models.FieldCreated] = now
	rec[models.FieldUpdated] = now

	if err := h.records.CreateRecord(ctx, collection, rec); err != nil {
		if errors.Is(err, storage.ErrRecordExists) {
			SendFieldError(w, h.logger, "failed to create record", http.StatusBadRequest,
				map[string]any{models.FieldID: "value must be unique"})
			return
		}
		h.logger.ErrorContext(ctx, "failed to create record",
			slog.String("collection", collection), slog.Any("error", err))
		SendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.DebugContext(ctx, "record created", slog.String("collection", collection), slog.String("id", id))
	SendJSON(w, h.logger, rec, http.StatusOK)
}

// Update обрабатывает PATCH /api/collections/{collection}/records/{id}
func (h *RecordsHandler) Update(w http.ResponseWriter, r *http.Request) {
	collection, ok := h.collection(w, r)
	if !ok {
		return
	}

	fields, ok := h.decodeFields(w, r)
	if !ok {
		return
	}

	rec, err := h.records.UpdateRecord(r.Context(), collection, chi.URLParam(r, "id"), fields,
		models.FormatTime(h.now()))
	if err != nil {
		h.sendStorageError(w, r, err)
		return
	}
	SendJSON(w, h.logger, rec, http.StatusOK)
}

// Delete обрабатывает DELETE /api/collections/{collection}/records/{id}
func (h *RecordsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	collection, ok := h.collection(w, r)
	if !ok {
		return
	}

	if err := h.records.DeleteRecord(r.Context(), collection, chi.URLParam(r, "id")); err != nil {
		h.sendStorageError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeFields разбирает тело запроса и проверяет имена полей
func (h *RecordsHandler) decodeFields(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		SendError(w, h.logger, "invalid request body", http.StatusBadRequest)
		return nil, false
	}

	rec, err := models.DecodeRecord(body)
	if err != nil {
		SendError(w, h.logger, "invalid request body", http.StatusBadRequest)
		return nil, false
	}

	for name := range rec {
		if err := validation.ValidateField(name); err != nil {
			SendFieldError(w, h.logger, "invalid field", http.StatusBadRequest,
				map[string]any{name: err.Error()})
			return nil, false
		}
	}
	return rec, true
}

func (h *RecordsHandler) sendStorageError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrRecordNotFound) {
		SendError(w, h.logger, "the requested resource wasn't found", http.StatusNotFound)
		return
	}
	h.logger.ErrorContext(r.Context(), "record storage error", slog.Any("error", err))
	SendError(w, h.logger, "internal server error", http.StatusInternalServerError)
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

// parseSort разбирает "-updated,id" в список полей сортировки
func parseSort(s string) ([]storage.SortField, error) {
	if s == "" {
		return nil, nil
	}

	var fields []storage.SortField
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		sf := storage.SortField{Field: part}
		switch {
		case strings.HasPrefix(part, "-"):
			sf = storage.SortField{Field: part[1:], Descending: true}
		case strings.HasPrefix(part, "+"):
			sf.Field = part[1:]
		}
		if !query.ValidIdentifier(sf.Field) {
			return nil, fmt.Errorf("invalid sort field %q", part)
		}
		fields = append(fields, sf)
	}
	return fields, nil
}
