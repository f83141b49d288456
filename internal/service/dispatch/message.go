// Package dispatch принимает команды из брокера и передаёт их исполнителям.
package dispatch

import (
	"context"
	"fmt"
)

// Message: входящее сообщение транспорта.
type Message struct {
	// ID однозначно определяет доставку: topic/partition/offset.
	ID    string
	Topic string
	Key   string
	Value []byte
}

// MessageID собирает идентификатор доставки из координат Kafka.
func MessageID(topic string, partition int32, offset int64) string {
	return fmt.Sprintf("%s/%d/%d", topic, partition, offset)
}

// Handler обрабатывает одно сообщение. nil означает, что сообщение можно подтвердить;
// ошибка означает, что транспорт должен повторить доставку.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc адаптирует функцию к Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Router выбирает обработчик по topic сообщения.
type Router struct {
	handlers map[string]Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Route регистрирует обработчик topic.
func (r *Router) Route(topic string, handler Handler) *Router {
	r.handlers[topic] = handler
	return r
}

// Topics возвращает зарегистрированные topics.
func (r *Router) Topics() []string {
	topics := make([]string, 0, len(r.handlers))
	for topic := range r.handlers {
		topics = append(topics, topic)
	}
	return topics
}

func (r *Router) Handle(ctx context.Context, msg Message) error {
	handler, ok := r.handlers[msg.Topic]
	if !ok {
		return fmt.Errorf("no handler for topic %q", msg.Topic)
	}
	return handler.Handle(ctx, msg)
}
