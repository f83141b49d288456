package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/lms/internal/service/revision"
)

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := kafka.SplitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// closeKafkaProducer закрывает Kafka producer если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// discardSender заменяет Kafka, когда брокеры не настроены: исходящие сообщения только логируются.
type discardSender struct {
	logger *log.Entry
}

func (s discardSender) Send(_ context.Context, topic, key string, value []byte) error {
	s.logger.WithFields(log.Fields{
		"topic": topic,
		"key":   key,
		"bytes": len(value),
	}).Debug("kafka is disabled, outbound message discarded")
	return nil
}

var _ revision.Sender = discardSender{}
