package kafka

import (
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/lms/internal/domain"
)

// DefaultTopicPrefix: префикс topics по умолчанию.
const DefaultTopicPrefix = "lms"

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return DefaultTopicPrefix
	}
	return prefix
}

// CommandsTopic возвращает topic входящих CRUD-команд вида.
func CommandsTopic(prefix string, kind domain.Kind) string {
	return fmt.Sprintf("%s.%s.commands", normalizePrefix(prefix), kind)
}

// RevisionsTopic возвращает topic исходящих ревизий вида.
func RevisionsTopic(prefix string, kind domain.Kind) string {
	return fmt.Sprintf("%s.%s.revisions", normalizePrefix(prefix), kind)
}

// RouteTasksTopic: topic задач FIND_ROUTE.
func RouteTasksTopic(prefix string) string {
	return normalizePrefix(prefix) + ".route.tasks"
}

// RouteFoundTopic: topic ответов ROUTE_FOUND.
func RouteFoundTopic(prefix string) string {
	return normalizePrefix(prefix) + ".route.found"
}

// DLQTopic: Dead Letter Queue для сообщений, исчерпавших попытки.
func DLQTopic(prefix string) string {
	return normalizePrefix(prefix) + ".dlq"
}

// SplitBrokers разбирает список брокеров через запятую.
func SplitBrokers(raw string) []string {
	var brokers []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			brokers = append(brokers, part)
		}
	}
	return brokers
}
