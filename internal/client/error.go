package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/buger/jsonparser"

	"korob/internal/apperr"
)

// ServerError — ошибка, пришедшая с сервера: стабильный code плюс
// HTTP-статус для справки. На текст сообщения завязываться нельзя.
type ServerError struct {
	Status  int
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server: %s (%d): %s", e.Code, e.Status, e.Message)
}

// decodeServerError разбирает тело {"code","message"}. Без code —
// UNKNOWN; у легаси-тел текст берём из "message", затем из "error",
// и только потом сырое тело.
func decodeServerError(status int, body []byte) *ServerError {
	var env apperr.Envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Code != "" {
		return &ServerError{Status: status, Code: env.Code, Message: env.Message}
	}
	msg := string(body)
	if s, err := jsonparser.GetString(body, "message"); err == nil {
		msg = s
	} else if s, err := jsonparser.GetString(body, "error"); err == nil {
		msg = s
	}
	return &ServerError{Status: status, Code: apperr.CodeUnknown, Message: msg}
}

func hasCode(err error, code string) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Code == code
}

func IsNotFound(err error) bool         { return hasCode(err, apperr.CodeNotFound) }
func IsConflict(err error) bool         { return hasCode(err, apperr.CodeConflict) }
func IsAlreadyExists(err error) bool    { return hasCode(err, apperr.CodeAlreadyExists) }
func IsUnauthenticated(err error) bool  { return hasCode(err, apperr.CodeUnauthenticated) }
func IsPermissionDenied(err error) bool { return hasCode(err, apperr.CodePermissionDenied) }
func IsValidationFailed(err error) bool { return hasCode(err, apperr.CodeValidationFailed) }
func IsReadOnly(err error) bool         { return hasCode(err, apperr.CodeReadOnly) }
