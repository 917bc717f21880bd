package admin

import (
	"net/http"
	"strings"

	"korob/internal/apperr"
)

// Authenticator проверяет право доступа по заголовкам запроса.
// nil — доступ разрешён; иначе apperr с Unauthenticated или PermissionDenied.
type Authenticator interface {
	Check(h http.Header, permission string) error
}

// AllowAll пропускает всё; для тестов и локальной разработки.
type AllowAll struct{}

func (AllowAll) Check(http.Header, string) error { return nil }

// StaticToken принимает единственный bearer-токен и даёт ему все права.
type StaticToken struct {
	Token string
}

func (a StaticToken) Check(h http.Header, _ string) error {
	tok, err := bearer(h)
	if err != nil {
		return err
	}
	if tok != a.Token {
		return apperr.New(apperr.PermissionDenied, "неизвестный токен")
	}
	return nil
}

// TokenPerms — токен → набор прав. Право "*" означает полный доступ.
type TokenPerms struct {
	Tokens map[string]map[string]bool
}

func (a TokenPerms) Check(h http.Header, permission string) error {
	tok, err := bearer(h)
	if err != nil {
		return err
	}
	perms, ok := a.Tokens[tok]
	if !ok {
		return apperr.New(apperr.PermissionDenied, "неизвестный токен")
	}
	if perms["*"] || perms[permission] {
		return nil
	}
	return apperr.Newf(apperr.PermissionDenied, "нет права %s", permission)
}

func bearer(h http.Header) (string, error) {
	raw := h.Get("Authorization")
	if raw == "" {
		return "", apperr.New(apperr.Unauthenticated, "нет заголовка Authorization")
	}
	tok, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok || tok == "" {
		return "", apperr.New(apperr.Unauthenticated, "ожидается схема Bearer")
	}
	return tok, nil
}
