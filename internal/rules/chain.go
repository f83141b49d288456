// Package rules содержит цепочки правил, которые допускают или отклоняют
// изменение и удаление сущностей.
package rules

import (
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/lms/internal/domain"
)

// UpdateFunc переносит принятое поле из proposed в рабочую копию current.
type UpdateFunc[T any] func(current *T, proposed T) bool

// DeleteFunc: чистый предикат, разрешающий удаление.
type DeleteFunc[T any] func(current T) bool

type namedUpdate[T any] struct {
	name string
	fn   UpdateFunc[T]
}

type namedDelete[T any] struct {
	name string
	fn   DeleteFunc[T]
}

// Chain хранит правила одного типа сущности в порядке регистрации.
type Chain[T any] struct {
	update []namedUpdate[T]
	delete []namedDelete[T]
}

// NewChain создаёт пустую цепочку.
func NewChain[T any]() *Chain[T] {
	return &Chain[T]{}
}

// OnUpdate регистрирует правило обновления.
func (c *Chain[T]) OnUpdate(name string, fn UpdateFunc[T]) *Chain[T] {
	c.update = append(c.update, namedUpdate[T]{name: name, fn: fn})
	return c
}

// OnDelete регистрирует правило удаления.
func (c *Chain[T]) OnDelete(name string, fn DeleteFunc[T]) *Chain[T] {
	c.delete = append(c.delete, namedDelete[T]{name: name, fn: fn})
	return c
}

// UpdateRules возвращает имена правил обновления в порядке регистрации.
func (c *Chain[T]) UpdateRules() []string {
	names := make([]string, 0, len(c.update))
	for _, rule := range c.update {
		names = append(names, rule.name)
	}
	return names
}

// EvaluateUpdate применяет все правила к копии current.
// Вычисляются все правила, даже после первого отказа; proposed при этом не меняется.
// При отказе рабочая копия отбрасывается и возвращается ErrValidationFailed с именами правил.
func (c *Chain[T]) EvaluateUpdate(current, proposed T) (T, error) {
	working := current
	var failed []string
	for _, rule := range c.update {
		if !rule.fn(&working, proposed) {
			failed = append(failed, rule.name)
		}
	}
	if len(failed) > 0 {
		return current, rejected("update", failed)
	}
	return working, nil
}

// EvaluateDelete проверяет все правила удаления.
func (c *Chain[T]) EvaluateDelete(current T) error {
	var failed []string
	for _, rule := range c.delete {
		if !rule.fn(current) {
			failed = append(failed, rule.name)
		}
	}
	if len(failed) > 0 {
		return rejected("delete", failed)
	}
	return nil
}

func rejected(op string, failed []string) error {
	return fmt.Errorf("%w: %s rejected by rules [%s]", domain.ErrValidationFailed, op, strings.Join(failed, ", "))
}
