// Package backend объявляет узкие интерфейсы движков хранения.
// Слой операций (internal/store) полиморфен по этим возможностям и
// не знает о конкретном движке.
package backend

import (
	"context"
	"database/sql"
)

// Entry — одна пара ключ/значение при сканировании префикса.
type Entry struct {
	Key   string
	Value []byte
}

// KV — get/put/delete/scan. Scan возвращает записи в порядке ключей.
// Движок может помечать ключи как read-only; запись/удаление таких
// ключей слой операций отклоняет с READ_ONLY.
type KV interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Scan(prefix string) ([]Entry, error)
	ReadOnly(key string) bool
}

// SQL — exec/query с позиционными параметрами ($1, $2, ...) плюс
// idempotent DDL через Exec. Ошибки движок переводит в apperr.
type SQL interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
}
