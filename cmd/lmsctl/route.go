package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/lms/internal/domain"
	"github.com/vladislavdragonenkov/lms/internal/messaging/kafka"
)

type findRouteOptions struct {
	*rootOptions
	OrderID     int
	FromStoreID int
	ToStoreID   int
	Rule        string
}

func newFindRouteCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &findRouteOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "find-route",
		Short: "Publish a FIND_ROUTE task",
		Long: `Publish a FIND_ROUTE task into the route tasks topic.
The answer arrives as ROUTE_FOUND keyed by the same order id.

Example:
  lmsctl find-route --order 7 --from 1 --to 2 --rule MINIMAL_MINUTES`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := buildRouteTask(opts.Prefix, domain.RouteTaskPayload{
				OrderID:     opts.OrderID,
				FromStoreID: opts.FromStoreID,
				ToStoreID:   opts.ToStoreID,
				RuleType:    domain.RouteRuleType(strings.ToUpper(strings.TrimSpace(opts.Rule))),
			})
			if err != nil {
				return err
			}
			return opts.publish(cmd, []outgoing{msg})
		},
	}

	cmd.Flags().IntVar(&opts.OrderID, "order", 0, "order id used for correlation")
	cmd.Flags().IntVar(&opts.FromStoreID, "from", 0, "source store id")
	cmd.Flags().IntVar(&opts.ToStoreID, "to", 0, "destination store id")
	cmd.Flags().StringVar(&opts.Rule, "rule", string(domain.RouteRuleMinimalDistance), "MINIMAL_DISTANCE | MINIMAL_MINUTES | MINIMAL_DURATION")
	_ = cmd.MarkFlagRequired("order")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func buildRouteTask(prefix string, task domain.RouteTaskPayload) (outgoing, error) {
	if err := domain.ValidateKey(domain.KindOrder, task.OrderID); err != nil {
		return outgoing{}, err
	}
	if err := domain.ValidateKey(domain.KindStore, task.FromStoreID); err != nil {
		return outgoing{}, err
	}
	if err := domain.ValidateKey(domain.KindStore, task.ToStoreID); err != nil {
		return outgoing{}, err
	}
	switch task.RuleType {
	case domain.RouteRuleMinimalDistance, domain.RouteRuleMinimalMinutes, domain.RouteRuleMinimalDuration:
	default:
		return outgoing{}, fmt.Errorf("%w: unknown rule type %q", domain.ErrInvalidInput, task.RuleType)
	}
	task.Route = nil

	return outgoing{
		topic: kafka.RouteTasksTopic(prefix),
		key:   strconv.Itoa(task.OrderID),
		event: domain.NewEvent(domain.EventFindRoute, task.OrderID, task),
	}, nil
}
