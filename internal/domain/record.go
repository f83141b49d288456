package domain

import (
	"fmt"
	"time"
)

// Kind определяет тип сущности, обслуживаемой сервисом.
type Kind string

const (
	KindCargo Kind = "cargo"
	KindOrder Kind = "order"
	KindStore Kind = "store"
	KindRoute Kind = "route"
)

// Kinds возвращает все поддерживаемые типы сущностей.
func Kinds() []Kind {
	return []Kind{KindCargo, KindOrder, KindStore, KindRoute}
}

// ParseKind разбирает строковое имя типа сущности.
func ParseKind(value string) (Kind, error) {
	for _, kind := range Kinds() {
		if string(kind) == value {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: unknown entity kind %q", ErrInvalidInput, value)
}

// Entity описывает полезную нагрузку записи с бизнес-ключом.
type Entity interface {
	Key() int
}

// Record: версионированная запись хранилища.
type Record[T Entity] struct {
	// InternalID назначается хранилищем и не покидает сервис.
	InternalID string    `json:"-"`
	Data       T         `json:"data"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Key возвращает бизнес-ключ записи.
func (r Record[T]) Key() int {
	return r.Data.Key()
}

// NewRecord оборачивает payload в запись, которую ещё не видело хранилище.
func NewRecord[T Entity](data T) Record[T] {
	return Record[T]{Data: data}
}

// ValidateKey проверяет, что бизнес-ключ положительный.
func ValidateKey(kind Kind, key int) error {
	if key < 1 {
		return fmt.Errorf("%w: %s key must be positive, got %d", ErrInvalidInput, kind, key)
	}
	return nil
}
