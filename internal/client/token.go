package client

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"korob/internal/apperr"
)

// TokenSource отдаёт bearer-токен для запроса: пустая строка — анонимный
// доступ без заголовка Authorization.
type TokenSource interface {
	Token() (string, error)
}

// NoAuth — анонимный источник.
type NoAuth struct{}

func (NoAuth) Token() (string, error) { return "", nil }

// StaticToken всегда отдаёт один и тот же токен.
type StaticToken struct {
	Value string
}

func (s StaticToken) Token() (string, error) { return s.Value, nil }

// expirySkew — за сколько до exp токен считается протухшим.
const expirySkew = 30 * time.Second

// PasswordSource логинится по паре логин/пароль и кэширует JWT
// до истечения срока. Обновление под write-lock с повторной проверкой.
type PasswordSource struct {
	LoginURL string
	Username string
	Password string
	HTTP     *http.Client

	mu      sync.RWMutex
	token   string
	expires time.Time
}

func NewPasswordSource(loginURL, username, password string) *PasswordSource {
	return &PasswordSource{
		LoginURL: loginURL,
		Username: username,
		Password: password,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *PasswordSource) fresh() (string, bool) {
	if p.token == "" {
		return "", false
	}
	if !p.expires.IsZero() && time.Now().After(p.expires.Add(-expirySkew)) {
		return "", false
	}
	return p.token, true
}

func (p *PasswordSource) Token() (string, error) {
	p.mu.RLock()
	tok, ok := p.fresh()
	p.mu.RUnlock()
	if ok {
		return tok, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// пока ждали write-lock, токен мог обновить другой поток
	if tok, ok := p.fresh(); ok {
		return tok, nil
	}
	tok, err := p.login()
	if err != nil {
		return "", err
	}
	p.token = tok
	p.expires = tokenExpiry(tok)
	return tok, nil
}

func (p *PasswordSource) login() (string, error) {
	body, _ := json.Marshal(map[string]string{
		"username": p.Username,
		"password": p.Password,
	})
	resp, err := p.HTTP.Post(p.LoginURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", apperr.Wrap(apperr.Unauthenticated, "запрос логина", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", apperr.Newf(apperr.Unauthenticated, "логин отклонён: статус %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.Wrap(apperr.Unauthenticated, "разбор ответа логина", err)
	}
	if out.Token == "" {
		return "", apperr.New(apperr.Unauthenticated, "ответ логина без токена")
	}
	return out.Token, nil
}

// tokenExpiry достаёт exp из JWT без проверки подписи; подпись проверяет
// сервер, клиенту срок нужен только для кэша.
func tokenExpiry(tok string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tok, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
