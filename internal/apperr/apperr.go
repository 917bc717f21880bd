package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind — вид ошибки; наружу уходит стабильный code + HTTP статус.
type Kind int

const (
	Validation Kind = iota
	Unauthenticated
	PermissionDenied
	ReadOnly
	NotFound
	AlreadyExists
	Conflict
	Storage
	Internal
)

// Стабильные коды, на которые завязаны клиенты. Тексты сообщений — нет.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeUnauthenticated  = "UNAUTHENTICATED"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeReadOnly         = "READ_ONLY"
	CodeNotFound         = "NOT_FOUND"
	CodeAlreadyExists    = "ALREADY_EXISTS"
	CodeConflict         = "CONFLICT"
	CodeStorageError     = "STORAGE_ERROR"
	CodeInternal         = "INTERNAL"
	CodeUnknown          = "UNKNOWN"
)

var codes = map[Kind]string{
	Validation:       CodeValidationFailed,
	Unauthenticated:  CodeUnauthenticated,
	PermissionDenied: CodePermissionDenied,
	ReadOnly:         CodeReadOnly,
	NotFound:         CodeNotFound,
	AlreadyExists:    CodeAlreadyExists,
	Conflict:         CodeConflict,
	Storage:          CodeStorageError,
	Internal:         CodeInternal,
}

var statuses = map[Kind]int{
	Validation:       http.StatusBadRequest,
	Unauthenticated:  http.StatusUnauthorized,
	PermissionDenied: http.StatusForbidden,
	ReadOnly:         http.StatusForbidden,
	NotFound:         http.StatusNotFound,
	AlreadyExists:    http.StatusConflict,
	Conflict:         http.StatusConflict,
	Storage:          http.StatusInternalServerError,
	Internal:         http.StatusInternalServerError,
}

type Error struct {
	Kind    Kind
	Message string
	Err     error // обёрнутая причина, наружу не уходит
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", codes[e.Kind], e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", codes[e.Kind], e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(k Kind, msg string) *Error { return &Error{Kind: k, Message: msg} }

func Newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func Wrap(k Kind, msg string, err error) *Error {
	return &Error{Kind: k, Message: msg, Err: err}
}

// KindOf возвращает вид ошибки; всё неопознанное считаем Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func Is(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

func Code(k Kind) string { return codes[k] }

// HTTPStatus — маппинг вида на статус (см. таблицу в apperr).
func HTTPStatus(err error) int {
	if st, ok := statuses[KindOf(err)]; ok {
		return st
	}
	return http.StatusInternalServerError
}

// Envelope — единый формат тела ошибки: {"code": "...", "message": "..."}.
type Envelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func EnvelopeOf(err error) Envelope {
	var e *Error
	if errors.As(err, &e) {
		return Envelope{Code: codes[e.Kind], Message: e.Message}
	}
	// неожиданные ошибки наружу не детализируем
	return Envelope{Code: CodeInternal, Message: "internal error"}
}
