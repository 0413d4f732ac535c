package api

import "encoding/json"

// AuthRequest представляет запрос на аутентификацию по паролю
type AuthRequest struct {
	Identity string `json:"identity"` // username пользователя
	Password string `json:"password"` // пароль в открытом виде (только по TLS)
}

// SignUpRequest представляет запрос на регистрацию нового пользователя
type SignUpRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

// RefreshRequest представляет запрос на обновление токена.
// Access token передается в заголовке Authorization, refresh token в теле.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// AuthResponse представляет ответ с токенами и записью пользователя
type AuthResponse struct {
	Record       json.RawMessage `json:"record"`       // запись пользователя
	Token        string          `json:"token"`        // JWT access token
	RefreshToken string          `json:"refreshToken"` // refresh token
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Data    map[string]any `json:"data,omitempty"` // ошибки по полям
	Message string         `json:"message"`        // описание ошибки
	Code    int            `json:"code"`           // HTTP статус
}
