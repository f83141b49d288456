// Package httpapi реализует HTTP-границу сервиса сущностей.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lms/internal/domain"
)

const (
	defaultListLimit = 100
	maxBodyBytes     = 1 << 20
)

// EntityService: операции над сущностью одного вида.
type EntityService[T domain.Entity] interface {
	Get(ctx context.Context, key int) (domain.Record[T], error)
	List(ctx context.Context, limit int) ([]domain.Record[T], error)
	Create(ctx context.Context, payload T) (domain.Record[T], error)
	Update(ctx context.Context, payload T) (domain.Record[T], error)
	Delete(ctx context.Context, key int) error
}

// RouteFinder синхронно выполняет задачу поиска маршрута.
type RouteFinder interface {
	Process(ctx context.Context, payload domain.RouteTaskPayload) (domain.RouteTaskPayload, error)
}

// Options задаёт параметры API.
type Options struct {
	Logger *log.Entry
	Audit  domain.AuditRepository
}

type Option func(*Options)

func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithAudit включает GET /{kind}/{id}/audit.
func WithAudit(audit domain.AuditRepository) Option {
	return func(opts *Options) {
		opts.Audit = audit
	}
}

// API собирает маршруты всех смонтированных видов.
type API struct {
	mux    *http.ServeMux
	audit  domain.AuditRepository
	logger *log.Entry
	now    func() time.Time
}

func New(options ...Option) *API {
	var opts Options
	for _, option := range options {
		option(&opts)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &API{
		mux:    http.NewServeMux(),
		audit:  opts.Audit,
		logger: logger,
		now:    time.Now,
	}
}

// Handler возвращает обработчик с логированием запросов.
func (a *API) Handler() http.Handler {
	return a.logRequests(a.mux)
}

// Mount регистрирует CRUD-маршруты вида.
func Mount[T domain.Entity](a *API, kind domain.Kind, svc EntityService[T]) {
	base := "/" + string(kind)

	a.mux.HandleFunc("GET "+base, func(w http.ResponseWriter, r *http.Request) {
		limit, err := limitParam(r)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		records, err := svc.List(r.Context(), limit)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		if records == nil {
			records = []domain.Record[T]{}
		}
		writeJSON(w, r, http.StatusOK, records)
	})

	a.mux.HandleFunc("GET "+base+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		key, err := keyParam(r)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		record, err := svc.Get(r.Context(), key)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, record)
	})

	a.mux.HandleFunc("POST "+base, func(w http.ResponseWriter, r *http.Request) {
		var payload T
		if err := decodeBody(w, r, &payload); err != nil {
			a.writeError(w, r, err)
			return
		}
		record, err := svc.Create(r.Context(), payload)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, record)
	})

	a.mux.HandleFunc("POST "+base+"/update", func(w http.ResponseWriter, r *http.Request) {
		var payload T
		if err := decodeBody(w, r, &payload); err != nil {
			a.writeError(w, r, err)
			return
		}
		record, err := svc.Update(r.Context(), payload)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, record)
	})

	a.mux.HandleFunc("DELETE "+base+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		key, err := keyParam(r)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		if err := svc.Delete(r.Context(), key); err != nil {
			a.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if a.audit == nil {
		return
	}
	a.mux.HandleFunc("GET "+base+"/{id}/audit", func(w http.ResponseWriter, r *http.Request) {
		key, err := keyParam(r)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		entries, err := a.audit.List(r.Context(), kind, key)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		if entries == nil {
			entries = []domain.AuditEntry{}
		}
		writeJSON(w, r, http.StatusOK, entries)
	})
}

// MountRouteFinder регистрирует POST /route/find.
func (a *API) MountRouteFinder(finder RouteFinder) {
	a.mux.HandleFunc("POST /"+string(domain.KindRoute)+"/find", func(w http.ResponseWriter, r *http.Request) {
		var payload domain.RouteTaskPayload
		if err := decodeBody(w, r, &payload); err != nil {
			a.writeError(w, r, err)
			return
		}
		found, err := finder.Process(r.Context(), payload)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, found)
	})
}

func keyParam(r *http.Request) (int, error) {
	raw := r.PathValue("id")
	key, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: id %q is not an integer", errBadRequest, raw)
	}
	return key, nil
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("%w: limit %q must be a positive integer", errBadRequest, raw)
	}
	return limit, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
