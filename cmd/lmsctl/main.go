// lmsctl публикует команды и задачи LMS в Kafka из командной строки.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/lms/internal/messaging/kafka"
)

const defaultBrokers = "localhost:9092"

// eventPublisher: то, что нужно командам от Kafka producer.
type eventPublisher interface {
	PublishEvent(ctx context.Context, topic, key string, event any) error
	Close() error
}

type publisherFactory func(brokers []string) (eventPublisher, error)

func newKafkaPublisher(brokers []string) (eventPublisher, error) {
	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		return nil, err
	}
	return producer, nil
}

// rootOptions: глобальные флаги всех подкоманд.
type rootOptions struct {
	Brokers string
	Prefix  string
	Timeout time.Duration
	DryRun  bool
	Verbose bool

	factory publisherFactory
}

func newRootCommand(factory publisherFactory) *cobra.Command {
	opts := &rootOptions{factory: factory}

	cmd := &cobra.Command{
		Use:   "lmsctl",
		Short: "Publish LMS commands and route tasks to Kafka",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Timeout <= 0 {
				return fmt.Errorf("timeout must be > 0, got %s", opts.Timeout)
			}
			if !opts.DryRun && len(kafka.SplitBrokers(opts.Brokers)) == 0 {
				return fmt.Errorf("at least one broker is required")
			}
			log.SetOutput(cmd.ErrOrStderr())
			log.SetLevel(log.WarnLevel)
			if opts.Verbose {
				log.SetLevel(log.DebugLevel)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Brokers, "brokers", envOrDefault("LMS_KAFKA_BROKERS", defaultBrokers), "comma-separated Kafka brokers")
	cmd.PersistentFlags().StringVar(&opts.Prefix, "topic-prefix", envOrDefault("LMS_TOPIC_PREFIX", kafka.DefaultTopicPrefix), "topic prefix")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "publish timeout")
	cmd.PersistentFlags().BoolVar(&opts.DryRun, "dry-run", false, "print messages instead of publishing")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newSendCommand(opts))
	cmd.AddCommand(newFindRouteCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))

	return cmd
}

// open возвращает publisher: печатающий при --dry-run, иначе Kafka.
func (o *rootOptions) open(out io.Writer) (eventPublisher, error) {
	if o.DryRun {
		return printPublisher{out: out}, nil
	}
	publisher, err := o.factory(kafka.SplitBrokers(o.Brokers))
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}
	return publisher, nil
}

// publish открывает publisher, отправляет сообщения по порядку и закрывает его.
func (o *rootOptions) publish(cmd *cobra.Command, messages []outgoing) error {
	publisher, err := o.open(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer publisher.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), o.Timeout)
	defer cancel()

	for i, msg := range messages {
		if err := publisher.PublishEvent(ctx, msg.topic, msg.key, msg.event); err != nil {
			return fmt.Errorf("publish %d/%d to %s: %w", i+1, len(messages), msg.topic, err)
		}
	}
	if !o.DryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "published %d message(s)\n", len(messages))
	}
	return nil
}

// outgoing: одно сообщение для публикации.
type outgoing struct {
	topic string
	key   string
	event any
}

type printPublisher struct {
	out io.Writer
}

func (p printPublisher) PublishEvent(_ context.Context, topic, key string, event any) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(p.out, "%s\t%s\t%s\n", topic, key, value)
	return err
}

func (printPublisher) Close() error { return nil }

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(newKafkaPublisher).ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "lmsctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}
