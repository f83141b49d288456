package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/lms/internal/domain"
	"github.com/vladislavdragonenkov/lms/internal/messaging/kafka"
)

type sendOptions struct {
	*rootOptions
	Data     string
	DataFile string
	Key      int
}

func newSendCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &sendOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send <kind> <create|update|delete>",
		Short: "Publish a CRUD command for an entity",
		Long: `Publish a CRUD command into the commands topic of the given kind.

Examples:
  lmsctl send cargo create --data '{"cargoId":1,"name":"tv","weight":10}'
  lmsctl send store update --data-file store.json
  lmsctl send order delete --key 42`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			eventType, err := parseMutation(args[1])
			if err != nil {
				return err
			}
			raw, err := opts.payload(eventType)
			if err != nil {
				return err
			}
			msg, err := buildCommand(opts.Prefix, kind, eventType, opts.Key, raw)
			if err != nil {
				return err
			}
			return opts.publish(cmd, []outgoing{msg})
		},
	}

	cmd.Flags().StringVar(&opts.Data, "data", "", "entity JSON for create/update")
	cmd.Flags().StringVar(&opts.DataFile, "data-file", "", "file with entity JSON for create/update")
	cmd.Flags().IntVar(&opts.Key, "key", 0, "entity key for delete")
	cmd.MarkFlagsMutuallyExclusive("data", "data-file")

	return cmd
}

func (o *sendOptions) payload(eventType domain.EventType) ([]byte, error) {
	if eventType == domain.EventDelete {
		return nil, nil
	}
	if o.DataFile != "" {
		raw, err := os.ReadFile(o.DataFile)
		if err != nil {
			return nil, fmt.Errorf("read data file: %w", err)
		}
		return raw, nil
	}
	if strings.TrimSpace(o.Data) == "" {
		return nil, fmt.Errorf("%s requires --data or --data-file", strings.ToLower(string(eventType)))
	}
	return []byte(o.Data), nil
}

func parseMutation(value string) (domain.EventType, error) {
	eventType := domain.EventType(strings.ToUpper(strings.TrimSpace(value)))
	if !eventType.IsMutation() {
		return "", fmt.Errorf("unsupported operation %q: must be create, update or delete", value)
	}
	return eventType, nil
}

// buildCommand собирает конверт команды нужного вида.
func buildCommand(prefix string, kind domain.Kind, eventType domain.EventType, key int, raw []byte) (outgoing, error) {
	switch kind {
	case domain.KindCargo:
		return commandFor[domain.Cargo](prefix, kind, eventType, key, raw)
	case domain.KindOrder:
		return commandFor[domain.Order](prefix, kind, eventType, key, raw)
	case domain.KindStore:
		return commandFor[domain.Store](prefix, kind, eventType, key, raw)
	case domain.KindRoute:
		return commandFor[domain.Route](prefix, kind, eventType, key, raw)
	default:
		return outgoing{}, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidInput, kind)
	}
}

func commandFor[T domain.Entity](prefix string, kind domain.Kind, eventType domain.EventType, key int, raw []byte) (outgoing, error) {
	if eventType == domain.EventDelete {
		if err := domain.ValidateKey(kind, key); err != nil {
			return outgoing{}, err
		}
		return commandMessage(prefix, kind, domain.NewEvent[*T](eventType, key, nil)), nil
	}

	var entity T
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&entity); err != nil {
		return outgoing{}, fmt.Errorf("decode %s data: %w", kind, err)
	}
	if err := domain.ValidateKey(kind, entity.Key()); err != nil {
		return outgoing{}, err
	}
	return commandMessage(prefix, kind, domain.NewEvent(eventType, entity.Key(), &entity)), nil
}

func commandMessage[T any](prefix string, kind domain.Kind, event domain.Event[*T]) outgoing {
	return outgoing{
		topic: kafka.CommandsTopic(prefix, kind),
		key:   strconv.Itoa(event.Key),
		event: event,
	}
}
