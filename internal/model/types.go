package model

import "time"

// Типы-маркеры полей. По объявленному типу выводится widget для UI
// и колонка для SQL; сами значения — обычные строки.
type (
	// ID — первичный ключ / идентификатор записи.
	ID string
	// Secret — скрытое значение (пароль, токен), в UI не показываем.
	Secret string
	// URL — ссылка.
	URL string
	// Timestamp — момент времени, ISO-8601 (RFC 3339, UTC, с наносекундами).
	Timestamp string
	// Name — ресурсное имя вида "module/collection/id", типизированная
	// ссылка на запись другой (или любой) модели.
	Name string
)

// TimeLayout — формат всех таймстампов фреймворка. Субсекундная точность
// обязательна: updated_at служит токеном оптимистической блокировки.
const TimeLayout = time.RFC3339Nano

func Now() Timestamp {
	return Timestamp(time.Now().UTC().Format(TimeLayout))
}

func (t Timestamp) Time() (time.Time, error) {
	return time.Parse(TimeLayout, string(t))
}

// Common — служебные поля, автоматически добавляемые после пользовательских.
// Порядок фиксирован: displayName, description, metadata, createdAt, updatedAt, rev.
type Common struct {
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
	Metadata    string `json:"metadata,omitempty"` // непрозрачный JSON-as-text
	CreatedAt   string `json:"createdAt,omitempty"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
	Rev         uint64 `json:"rev,omitempty"`
}

// CommonRef отдаёт указатель на служебные поля; метод промоутится на
// любую модель, встраивающую Common.
func (c *Common) CommonRef() *Common { return c }
