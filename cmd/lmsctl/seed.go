package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/lms/internal/domain"
)

// fixtures: содержимое файла seed. Поля совпадают с JSON-именами сущностей.
type fixtures struct {
	Stores     []domain.Store            `yaml:"stores"`
	Cargo      []domain.Cargo            `yaml:"cargo"`
	Routes     []domain.Route            `yaml:"routes"`
	Orders     []domain.Order            `yaml:"orders"`
	RouteTasks []domain.RouteTaskPayload `yaml:"routeTasks"`
}

type seedOptions struct {
	*rootOptions
	File string
}

func newSeedCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &seedOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Publish CREATE commands and route tasks from a YAML fixture file",
		Long: `Publish CREATE commands for every entity in a fixture file, then its
route tasks. Stores go first, then cargo, routes and orders.

Example:
  lmsctl seed -f fixtures.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := loadFixtures(opts.File)
			if err != nil {
				return err
			}
			messages, err := data.messages(opts.Prefix)
			if err != nil {
				return err
			}
			if len(messages) == 0 {
				return errors.New("fixture file has nothing to publish")
			}
			return opts.publish(cmd, messages)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "fixture YAML file")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func loadFixtures(path string) (fixtures, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fixtures{}, fmt.Errorf("read fixture file: %w", err)
	}

	var data fixtures
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		return fixtures{}, fmt.Errorf("parse fixture file: %w", err)
	}
	return data, nil
}

func (f fixtures) messages(prefix string) ([]outgoing, error) {
	var out []outgoing
	var err error

	if out, err = appendCreates(out, prefix, domain.KindStore, f.Stores); err != nil {
		return nil, err
	}
	if out, err = appendCreates(out, prefix, domain.KindCargo, f.Cargo); err != nil {
		return nil, err
	}
	if out, err = appendCreates(out, prefix, domain.KindRoute, f.Routes); err != nil {
		return nil, err
	}
	if out, err = appendCreates(out, prefix, domain.KindOrder, f.Orders); err != nil {
		return nil, err
	}

	for i, task := range f.RouteTasks {
		if task.RuleType == "" {
			task.RuleType = domain.RouteRuleMinimalDistance
		}
		msg, err := buildRouteTask(prefix, task)
		if err != nil {
			return nil, fmt.Errorf("routeTasks[%d]: %w", i, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func appendCreates[T domain.Entity](out []outgoing, prefix string, kind domain.Kind, items []T) ([]outgoing, error) {
	for i := range items {
		entity := items[i]
		if err := domain.ValidateKey(kind, entity.Key()); err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", kind, i, err)
		}
		out = append(out, commandMessage(prefix, kind, domain.NewEvent(domain.EventCreate, entity.Key(), &entity)))
	}
	return out, nil
}
