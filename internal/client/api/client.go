package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/pkg/api"
)

// usersCollection коллекция пользователей backend'а (auth коллекция)
const usersCollection = "users"

// ListOptions параметры запроса страницы записей
type ListOptions struct {
	Filter    string // Filter строка фильтра backend'а (query.RemoteFilter)
	Sort      string // Sort например "-updated,-id"
	Page      int    // Page номер страницы, начиная с 1
	PerPage   int    // PerPage размер страницы
	SkipTotal bool   // SkipTotal не считать totalItems/totalPages
}

// Client представляет HTTP клиент удаленного backend'а
type Client struct {
	httpClient   *http.Client
	baseURL      string
	token        string
	refreshToken string
	mu           sync.RWMutex
}

// NewClient создает новый API клиент
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
}

// SetTokens устанавливает токены, полученные ранее (например, из сессии на диске)
func (c *Client) SetTokens(token, refreshToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.refreshToken = refreshToken
}

// Tokens возвращает текущие access и refresh токены
func (c *Client) Tokens() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.refreshToken
}

// TokenExpiresWithin сообщает, истекает ли access token в течение d.
// Подпись не проверяется: клиент только решает, пора ли обновить токен.
// Без токена или без claim exp возвращает false.
func (c *Client) TokenExpiresWithin(d time.Duration) bool {
	token, _ := c.Tokens()
	if token == "" {
		return false
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return time.Until(claims.ExpiresAt.Time) < d
}

// Health выполняет проверку доступности backend'а.
// Возвращает HTTP статус; ошибка означает, что ответ не получен.
func (c *Client) Health(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("health request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	return resp.StatusCode, nil
}

// List получает страницу записей коллекции
func (c *Client) List(ctx context.Context, collection string, opts ListOptions) (*api.ListResponse, error) {
	q := url.Values{}
	if opts.Page > 0 {
		q.Set(api.ParamPage, strconv.Itoa(opts.Page))
	}
	if opts.PerPage > 0 {
		q.Set(api.ParamPerPage, strconv.Itoa(opts.PerPage))
	}
	if opts.SkipTotal {
		q.Set(api.ParamSkipTotal, "true")
	}
	if opts.Filter != "" {
		q.Set(api.ParamFilter, opts.Filter)
	}
	if opts.Sort != "" {
		q.Set(api.ParamSort, opts.Sort)
	}

	path := recordsPath(collection)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp api.ListResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list %s failed: %w", collection, err)
	}
	return &resp, nil
}

// Create создает запись. Если fields содержит id, backend использует его
// (create-with-explicit-id, нужен для записей, созданных офлайн).
func (c *Client) Create(ctx context.Context, collection string, fields map[string]any) (models.Record, error) {
	var raw json.RawMessage
	if err := c.doRequest(ctx, http.MethodPost, recordsPath(collection), fields, &raw); err != nil {
		return nil, fmt.Errorf("create in %s failed: %w", collection, err)
	}
	return models.DecodeRecord(raw)
}

// Update частично обновляет запись
func (c *Client) Update(ctx context.Context, collection, id string, fields map[string]any) (models.Record, error) {
	var raw json.RawMessage
	if err := c.doRequest(ctx, http.MethodPatch, recordPath(collection, id), fields, &raw); err != nil {
		return nil, fmt.Errorf("update %s/%s failed: %w", collection, id, err)
	}
	return models.DecodeRecord(raw)
}

// Delete удаляет запись
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	if err := c.doRequest(ctx, http.MethodDelete, recordPath(collection, id), nil, nil); err != nil {
		return fmt.Errorf("delete %s/%s failed: %w", collection, id, err)
	}
	return nil
}

// SignUp регистрирует нового пользователя
func (c *Client) SignUp(ctx context.Context, username, password string) (models.Record, error) {
	req := api.SignUpRequest{
		Username:        username,
		Password:        password,
		PasswordConfirm: password,
	}

	var raw json.RawMessage
	if err := c.doRequest(ctx, http.MethodPost, recordsPath(usersCollection), req, &raw); err != nil {
		return nil, fmt.Errorf("sign up failed: %w", err)
	}
	return models.DecodeRecord(raw)
}

// AuthWithPassword выполняет аутентификацию и запоминает полученные токены
func (c *Client) AuthWithPassword(ctx context.Context, identity, password string) (*api.AuthResponse, error) {
	req := api.AuthRequest{Identity: identity, Password: password}

	var resp api.AuthResponse
	path := "/api/collections/" + usersCollection + "/auth-with-password"
	if err := c.doRequest(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, fmt.Errorf("auth with password failed: %w", err)
	}

	c.SetTokens(resp.Token, resp.RefreshToken)
	return &resp, nil
}

// AuthRefresh обменивает refresh token на новую пару токенов
func (c *Client) AuthRefresh(ctx context.Context) (*api.AuthResponse, error) {
	_, refreshToken := c.Tokens()
	if refreshToken == "" {
		return nil, fmt.Errorf("auth refresh failed: %w", ErrNotAuthenticated)
	}

	var resp api.AuthResponse
	path := "/api/collections/" + usersCollection + "/auth-refresh"
	if err := c.doRequest(ctx, http.MethodPost, path, api.RefreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return nil, fmt.Errorf("auth refresh failed: %w", err)
	}

	c.SetTokens(resp.Token, resp.RefreshToken)
	return &resp, nil
}

func recordsPath(collection string) string {
	return "/api/collections/" + url.PathEscape(collection) + "/records"
}

func recordPath(collection, id string) string {
	return recordsPath(collection) + "/" + url.PathEscape(id)
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, _ := c.Tokens(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newStatusError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// DecodeItems разбирает записи страницы списка
func DecodeItems(resp *api.ListResponse) ([]models.Record, error) {
	records := make([]models.Record, 0, len(resp.Items))
	for i, item := range resp.Items {
		rec, err := models.DecodeRecord(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
