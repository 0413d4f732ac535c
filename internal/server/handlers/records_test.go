package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/server/storage/sqlite"
	"github.com/iudanet/gophsync/pkg/api"
)

func setupRecordsRouter(t *testing.T) (http.Handler, *RecordsHandler) {
	t.Helper()

	s, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})

	h := NewRecordsHandler(setupTestLogger(), s)
	tick := time.Date(2022, 8, 1, 0, 0, 0, 0, time.UTC)
	h.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	r := chi.NewRouter()
	r.Route("/api/collections/{collection}/records", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.View)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
	return r, h
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeRecord(t *testing.T, w *httptest.ResponseRecorder) models.Record {
	t.Helper()

	rec, err := models.DecodeRecord(w.Body.Bytes())
	require.NoError(t, err)
	return rec
}

func listIDs(t *testing.T, router http.Handler, params url.Values) (api.ListResponse, []string) {
	t.Helper()

	w := doRequest(t, router, http.MethodGet, "/api/collections/notes/records?"+params.Encode(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.ListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))

	ids := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		rec, err := models.DecodeRecord(item)
		require.NoError(t, err)
		ids = append(ids, rec.ID())
	}
	return resp, ids
}

func TestRecordsHandler_CreateAssignsSystemFields(t *testing.T) {
	router, _ := setupRecordsRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/collections/notes/records",
		map[string]any{"title": "hello", "done": false, "created": "ignored"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	rec := decodeRecord(t, w)
	assert.Len(t, rec.ID(), models.RecordIDLength)
	assert.Equal(t, "2022-08-01 00:00:01.000Z", rec.Created())
	assert.Equal(t, rec.Created(), rec.Updated())
	assert.Equal(t, "hello", rec["title"])
	assert.Equal(t, false, rec["done"])

	w = doRequest(t, router, http.MethodGet, "/api/collections/notes/records/"+rec.ID(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, rec, decodeRecord(t, w))
}

func TestRecordsHandler_CreateWithClientID(t *testing.T) {
	router, _ := setupRecordsRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/collections/notes/records",
		map[string]any{"id": "abcdefghijklmno", "title": "offline"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abcdefghijklmno", decodeRecord(t, w).ID())

	// повтор с тем же id отклоняется как постоянная ошибка
	w = doRequest(t, router, http.MethodPost, "/api/collections/notes/records",
		map[string]any{"id": "abcdefghijklmno", "title": "again"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, router, http.MethodPost, "/api/collections/notes/records",
		map[string]any{"id": "bad id!", "title": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordsHandler_CreateRejectsBadInput(t *testing.T) {
	router, _ := setupRecordsRouter(t)

	tests := []struct {
		body any
		name string
		path string
	}{
		{name: "reserved collection", path: "/api/collections/_operation_queue/records", body: map[string]any{"a": 1}},
		{name: "bad field name", path: "/api/collections/notes/records", body: map[string]any{"a')--": 1}},
		{name: "empty body", path: "/api/collections/notes/records"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestRecordsHandler_List(t *testing.T) {
	router, _ := setupRecordsRouter(t)

	for i, title := range []string{"a", "b", "c", "d", "e"} {
		w := doRequest(t, router, http.MethodPost, "/api/collections/notes/records", map[string]any{
			"id":    "n" + title,
			"title": title,
			"done":  i%2 == 0,
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	t.Run("defaults with totals", func(t *testing.T) {
		resp, ids := listIDs(t, router, url.Values{})
		assert.Equal(t, []string{"na", "nb", "nc", "nd", "ne"}, ids)
		assert.Equal(t, 1, resp.Page)
		assert.Equal(t, DefaultPerPage, resp.PerPage)
		assert.Equal(t, 5, resp.TotalItems)
		assert.Equal(t, 1, resp.TotalPages)
	})

	t.Run("paging and skipTotal", func(t *testing.T) {
		resp, ids := listIDs(t, router, url.Values{"page": {"2"}, "perPage": {"2"}, "skipTotal": {"true"}})
		assert.Equal(t, []string{"nc", "nd"}, ids)
		assert.Equal(t, -1, resp.TotalItems)
		assert.Equal(t, -1, resp.TotalPages)
	})

	t.Run("filter and sort", func(t *testing.T) {
		resp, ids := listIDs(t, router, url.Values{"filter": {"done = true"}, "sort": {"-updated,-id"}})
		assert.Equal(t, []string{"ne", "nc", "na"}, ids)
		assert.Equal(t, 3, resp.TotalItems)
	})

	t.Run("perPage is capped", func(t *testing.T) {
		resp, _ := listIDs(t, router, url.Values{"perPage": {"10000"}})
		assert.Equal(t, api.MaxPerPage, resp.PerPage)
	})

	t.Run("unknown collection is empty", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/api/collections/tasks/records", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp api.ListResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Empty(t, resp.Items)
		assert.Equal(t, 0, resp.TotalItems)
	})

	for _, bad := range []url.Values{
		{"filter": {"done = "}},
		{"sort": {"-bad field"}},
		{"page": {"0"}},
		{"perPage": {"x"}},
	} {
		w := doRequest(t, router, http.MethodGet, "/api/collections/notes/records?"+bad.Encode(), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad.Encode())
	}
}

func TestRecordsHandler_UpdateDelete(t *testing.T) {
	router, _ := setupRecordsRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/collections/notes/records",
		map[string]any{"id": "n1", "title": "a", "rank": 1})
	require.Equal(t, http.StatusOK, w.Code)
	created := decodeRecord(t, w)

	w = doRequest(t, router, http.MethodPatch, "/api/collections/notes/records/n1",
		map[string]any{"title": "b"})
	require.Equal(t, http.StatusOK, w.Code)
	updated := decodeRecord(t, w)
	assert.Equal(t, "b", updated["title"])
	assert.Equal(t, int64(1), updated["rank"])
	assert.Equal(t, created.Created(), updated.Created())
	assert.Greater(t, updated.Updated(), created.Updated())

	w = doRequest(t, router, http.MethodPatch, "/api/collections/notes/records/missing",
		map[string]any{"title": "b"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, router, http.MethodDelete, "/api/collections/notes/records/n1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(t, router, http.MethodDelete, "/api/collections/notes/records/n1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, router, http.MethodGet, "/api/collections/notes/records/n1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestParseSort(t *testing.T) {
	fields, err := parseSort("-updated, id,+rank")
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.Equal(t, "updated", fields[0].Field)
	assert.True(t, fields[0].Descending)
	assert.Equal(t, "id", fields[1].Field)
	assert.False(t, fields[1].Descending)
	assert.Equal(t, "rank", fields[2].Field)

	_, err = parseSort("-")
	assert.Error(t, err)
}
