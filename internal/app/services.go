package app

import (
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/vladislavdragonenkov/lms/internal/api/httpapi"
	"github.com/vladislavdragonenkov/lms/internal/domain"
	"github.com/vladislavdragonenkov/lms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/lms/internal/metrics"
	"github.com/vladislavdragonenkov/lms/internal/rules"
	"github.com/vladislavdragonenkov/lms/internal/service/dispatch"
	"github.com/vladislavdragonenkov/lms/internal/service/mutation"
	"github.com/vladislavdragonenkov/lms/internal/service/revision"
	"github.com/vladislavdragonenkov/lms/internal/service/routetask"
)

// serviceDeps: всё, что нужно для сборки исполнителей одного процесса.
type serviceDeps struct {
	cfg     Config
	storage runtimeDependencies
	// routes: репозиторий маршрутов с кэшем чтения.
	routes domain.RouteRepository
	sender revision.Sender
	// outbox задаётся только при настроенной Kafka.
	outbox   domain.OutboxRepository
	mutation *metrics.MutationMetrics
	dispatch *metrics.DispatchMetrics
	logger   *log.Entry
}

// services: HTTP API и маршрутизатор входящих сообщений по topics.
type services struct {
	api    *httpapi.API
	router *dispatch.Router
}

func buildServices(kinds []domain.Kind, deps serviceDeps) *services {
	s := &services{
		api: httpapi.New(
			httpapi.WithAudit(deps.storage.audit),
			httpapi.WithLogger(deps.logger.WithField("layer", "http")),
		),
		router: dispatch.NewRouter(),
	}

	for _, kind := range kinds {
		switch kind {
		case domain.KindCargo:
			registerKind(s, deps, kind, deps.storage.cargo, rules.Cargo())
		case domain.KindOrder:
			registerKind(s, deps, kind, deps.storage.order, rules.Order())
		case domain.KindStore:
			registerKind(s, deps, kind, deps.storage.store, rules.Store())
		case domain.KindRoute:
			registerKind[domain.Route](s, deps, kind, deps.routes, rules.Route())

			tasks := routetask.NewHandler(deps.routes, deps.sender, kafka.RouteFoundTopic(deps.cfg.TopicPrefix),
				routetask.WithLogger(deps.logger.WithField("layer", "route-task")),
				routetask.WithMetrics(deps.dispatch),
			)
			s.api.MountRouteFinder(tasks)
			s.router.Route(kafka.RouteTasksTopic(deps.cfg.TopicPrefix), tasks)
		}
	}
	return s
}

// registerKind собирает исполнитель вида и подключает его к HTTP и к topic команд.
func registerKind[T domain.Entity](s *services, deps serviceDeps, kind domain.Kind, repo domain.Repository[T], chain mutation.Rules[T]) *mutation.Executor[T] {
	logger := deps.logger.WithField("kind", kind)

	publisherOpts := []revision.Option{
		revision.WithLogger(logger.WithField("layer", "revision")),
		revision.WithMetrics(deps.mutation),
	}
	if deps.outbox != nil {
		publisherOpts = append(publisherOpts, revision.WithOutbox(deps.outbox))
	}
	publisher := revision.NewPublisher[T](kind, kafka.RevisionsTopic(deps.cfg.TopicPrefix, kind), deps.sender, publisherOpts...)

	executor := mutation.NewExecutor[T](kind, repo, chain,
		mutation.WithLogger[T](logger.WithField("layer", "mutation")),
		mutation.WithRetry[T](mutation.RetryConfig{
			MaxAttempts: deps.cfg.MutationMaxAttempts,
			Delay:       deps.cfg.MutationRetryDelay,
		}),
		mutation.WithPublisher[T](publisher),
		mutation.WithAudit[T](deps.storage.audit),
		mutation.WithMetrics[T](deps.mutation),
	)

	httpapi.Mount[T](s.api, kind, executor)
	s.router.Route(kafka.CommandsTopic(deps.cfg.TopicPrefix, kind), dispatch.NewDispatcher[T](kind, executor,
		dispatch.WithLogger(logger.WithField("layer", "dispatch")),
		dispatch.WithInbox(deps.storage.inbox, deps.cfg.InboxTTL),
		dispatch.WithMetrics(deps.dispatch),
		dispatch.WithTracer(otel.Tracer(serviceName)),
	))
	return executor
}
