// Package store — типизированные CRUD-операции над KV- и SQL-движками:
// хуки, оптимистическая блокировка по updatedAt, merge-patch (RFC 7386),
// пагинация и подсчёт.
package store

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"korob/internal/apperr"
	"korob/internal/model"
)

// Record — любая модель, встраивающая model.Common.
type Record interface{ CommonRef() *model.Common }

// CommonRef даёт операциям доступ к служебным полям через промоутнутый метод.
func commonOf(rec any) *model.Common {
	r, ok := rec.(interface{ CommonRef() *model.Common })
	if !ok {
		panic(fmt.Sprintf("store: %T does not embed model.Common", rec))
	}
	return r.CommonRef()
}

// Page — страница листинга.
type Page[T any] struct {
	Items   []*T
	HasMore bool
}

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID генерирует ULID для записей без первичного ключа.
func NewID() string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
}

// nextTimestamp — новый updatedAt, строго позже prev: "позже по стенным
// часам = позже updatedAt", иначе блокировка по таймстампу не различит записи.
func nextTimestamp(prev string) string {
	now := time.Now().UTC()
	if prev != "" {
		if p, err := time.Parse(model.TimeLayout, prev); err == nil && !now.After(p) {
			now = p.Add(time.Nanosecond)
		}
	}
	return now.Format(model.TimeLayout)
}

// Хуки кидают ошибки из таксономии apperr — пропускаем как есть,
// всё прочее деградирует в Internal.
func hookErr(err error) error {
	if err == nil {
		return nil
	}
	var e *apperr.Error
	if errors.As(err, &e) {
		return err
	}
	return apperr.Wrap(apperr.Internal, "hook failed", err)
}

func runBeforeCreate(rec any) error {
	if h, ok := rec.(model.BeforeCreator); ok {
		return hookErr(h.BeforeCreate())
	}
	return nil
}

func runBeforeUpdate(rec any) error {
	if h, ok := rec.(model.BeforeUpdater); ok {
		return hookErr(h.BeforeUpdate())
	}
	return nil
}

func runAfterDelete(rec any) {
	if h, ok := rec.(model.AfterDeleter); ok {
		h.AfterDelete()
	}
}

// validateNames — встроенная проверка ссылочных полей плюс
// пользовательский хук validate_names.
func validateNames(desc *model.Descriptor, rec any) error {
	issues := desc.CheckNames(rec)
	if h, ok := rec.(model.NameValidator); ok {
		issues = append(issues, h.ValidateNames()...)
	}
	if len(issues) == 0 {
		return nil
	}
	parts := make([]string, 0, len(issues))
	for _, is := range issues {
		parts = append(parts, fmt.Sprintf("%s: invalid reference %q", is.Field, is.Value))
	}
	return apperr.New(apperr.Validation, strings.Join(parts, "; "))
}
