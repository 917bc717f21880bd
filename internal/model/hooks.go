package model

// Хуки жизненного цикла. Модель реализует нужные интерфейсы на
// указателе; отсутствие метода = no-op. Наследования нет.
type (
	BeforeCreator interface{ BeforeCreate() error }
	BeforeUpdater interface{ BeforeUpdate() error }
	AfterDeleter  interface{ AfterDelete() }
	// NameValidator — дополнительная пользовательская проверка ссылок
	// поверх встроенной CheckNames.
	NameValidator interface{ ValidateNames() []NameIssue }
)
