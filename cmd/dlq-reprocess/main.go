package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lms/internal/domain"
	"github.com/vladislavdragonenkov/lms/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

var errSkip = errors.New("not a replayable dlq message")

type config struct {
	brokers     []string
	prefix      string
	sourceTopic string
	targetTopic string
	kind        domain.Kind
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

type replayMessage struct {
	topic string
	key   string
	value []byte
}

// dlqMessage покрывает оба формата DLQ: сообщения consumer (original_value)
// и ревизии, не отправленные outbox worker (payload).
type dlqMessage struct {
	OriginalTopic string          `json:"original_topic"`
	OriginalKey   string          `json:"original_key"`
	OriginalValue string          `json:"original_value"`
	OutboxID      string          `json:"outbox_id"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	Send(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return client, consumer, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		brokersRaw string
		kindRaw    string
		cfg        config
	)

	defaultPrefix := os.Getenv("LMS_TOPIC_PREFIX")
	if strings.TrimSpace(defaultPrefix) == "" {
		defaultPrefix = kafka.DefaultTopicPrefix
	}

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: LMS_KAFKA_BROKERS)")
	flag.StringVar(&cfg.prefix, "prefix", defaultPrefix, "topic prefix (fallback: LMS_TOPIC_PREFIX)")
	flag.StringVar(&cfg.sourceTopic, "source-topic", "", "DLQ source topic (default: <prefix>.dlq)")
	flag.StringVar(&cfg.targetTopic, "target-topic", "", "override target topic; default is the original topic of each message")
	flag.StringVar(&kindRaw, "kind", "", "replay only messages of one entity kind (cargo|order|store|route)")
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	flag.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	flag.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("LMS_KAFKA_BROKERS")
	}

	cfg.brokers = kafka.SplitBrokers(brokersRaw)
	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or LMS_KAFKA_BROKERS)")
	}
	if strings.TrimSpace(cfg.sourceTopic) == "" {
		cfg.sourceTopic = kafka.DLQTopic(cfg.prefix)
	}
	if kindRaw = strings.TrimSpace(kindRaw); kindRaw != "" {
		kind, err := domain.ParseKind(kindRaw)
		if err != nil {
			return config{}, err
		}
		cfg.kind = kind
	}
	if cfg.limit <= 0 {
		return config{}, fmt.Errorf("limit must be > 0")
	}
	if cfg.idleTimeout <= 0 {
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return cfg, nil
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"kind":         cfg.kind,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	client, consumer, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	return runReplay(ctx, cfg, client, consumer, producer)
}

func runReplay(ctx context.Context, cfg config, client offsetClient, consumer partitionConsumerSource, producer replayProducer) error {
	if client == nil || consumer == nil {
		return fmt.Errorf("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return fmt.Errorf("producer is required in execute mode")
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.sourceTopic).Warn("source topic has no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var total partitionStats
	for _, partition := range partitions {
		if total.processed >= cfg.limit {
			break
		}

		stats, err := processPartition(ctx, consumer, client, producer, cfg, partition, cfg.limit-total.processed)
		if err != nil {
			return err
		}
		total.processed += stats.processed
		total.replayed += stats.replayed
		total.skipped += stats.skipped
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}

	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")

	return nil
}

type partitionStats struct {
	processed int
	replayed  int
	skipped   int
}

func processPartition(
	ctx context.Context,
	consumer partitionConsumerSource,
	client offsetClient,
	producer replayProducer,
	cfg config,
	partition int32,
	limit int,
) (partitionStats, error) {
	var stats partitionStats
	if limit <= 0 {
		return stats, nil
	}

	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	startOffset := oldest
	if cfg.fromNewest {
		startOffset = max(newest-int64(limit), oldest)
	}

	pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, startOffset)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idleTimer := time.NewTimer(cfg.idleTimeout)
	defer idleTimer.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case err := <-pc.Errors():
			if err != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil {
				return stats, nil
			}
			idleTimer.Reset(cfg.idleTimeout)

			if msg.Offset >= newest {
				return stats, nil
			}
			stats.processed++

			replay, err := extractReplayMessage(msg, cfg)
			if err != nil {
				stats.skipped++
				logger := log.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})
				if errors.Is(err, errSkip) {
					logger.WithError(err).Debug("skip dlq message")
				} else {
					logger.WithError(err).Warn("skip unsupported dlq message")
				}
			} else if cfg.execute {
				if err := producer.Send(ctx, replay.topic, replay.key, replay.value); err != nil {
					return stats, fmt.Errorf("publish replay message: %w", err)
				}
				stats.replayed++
			} else {
				log.WithFields(log.Fields{
					"partition":    msg.Partition,
					"offset":       msg.Offset,
					"target_topic": replay.topic,
					"key":          replay.key,
				}).Info("dlq replay candidate")
				stats.replayed++
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		case <-idleTimer.C:
			return stats, nil
		}
	}

	return stats, nil
}

// extractReplayMessage восстанавливает исходное сообщение и его topic.
func extractReplayMessage(msg *sarama.ConsumerMessage, cfg config) (replayMessage, error) {
	var dlq dlqMessage
	if err := json.Unmarshal(msg.Value, &dlq); err != nil {
		return replayMessage{}, fmt.Errorf("%w: %v", errSkip, err)
	}

	var replay replayMessage
	switch {
	case dlq.OriginalValue != "":
		replay = replayMessage{topic: dlq.OriginalTopic, key: dlq.OriginalKey, value: []byte(dlq.OriginalValue)}
	case len(dlq.Payload) > 0:
		if !json.Valid(dlq.Payload) {
			return replayMessage{}, fmt.Errorf("outbox dlq message %s carries invalid payload", dlq.OutboxID)
		}
		key := dlq.AggregateID
		if key == "" {
			key = dlq.OutboxID
		}
		replay = replayMessage{topic: dlq.OriginalTopic, key: key, value: dlq.Payload}
	default:
		return replayMessage{}, errSkip
	}

	if cfg.kind != "" && !belongsToKind(cfg.prefix, cfg.kind, replay.topic) {
		return replayMessage{}, fmt.Errorf("%w: topic %q is not %s", errSkip, replay.topic, cfg.kind)
	}
	if target := strings.TrimSpace(cfg.targetTopic); target != "" {
		replay.topic = target
	}
	if strings.TrimSpace(replay.topic) == "" {
		return replayMessage{}, fmt.Errorf("dlq message has no original topic and no -target-topic")
	}
	return replay, nil
}

// belongsToKind сообщает, относится ли topic к командам, ревизиям или задачам вида.
func belongsToKind(prefix string, kind domain.Kind, topic string) bool {
	switch topic {
	case kafka.CommandsTopic(prefix, kind), kafka.RevisionsTopic(prefix, kind):
		return true
	case kafka.RouteTasksTopic(prefix), kafka.RouteFoundTopic(prefix):
		return kind == domain.KindRoute
	default:
		return false
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
