package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/lms/internal/domain"
	"github.com/vladislavdragonenkov/lms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/lms/internal/metrics"
	"github.com/vladislavdragonenkov/lms/internal/service/dispatch"
	"github.com/vladislavdragonenkov/lms/internal/service/routecache"
)

type captureSender struct {
	mu   sync.Mutex
	sent map[string][][]byte
}

func (s *captureSender) Send(_ context.Context, topic, _ string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = make(map[string][][]byte)
	}
	s.sent[topic] = append(s.sent[topic], value)
	return nil
}

func (s *captureSender) count(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent[topic])
}

func newTestServices(t *testing.T, kinds string) (*services, *captureSender, runtimeDependencies) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Kinds = kinds
	parsed, err := cfg.ParsedKinds()
	require.NoError(t, err)

	logger := log.WithField("test", t.Name())
	storage, err := initRuntimeDependencies(context.Background(), cfg, logger)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	sender := &captureSender{}
	svc := buildServices(parsed, serviceDeps{
		cfg:     cfg,
		storage: storage,
		routes: routecache.NewCachedRouteRepository(storage.routes, routecache.NewMemoryCache(),
			routecache.WithMetrics(metrics.NewCacheMetricsWithRegisterer(registry))),
		sender:   sender,
		mutation: metrics.NewMutationMetricsWithRegisterer(registry),
		dispatch: metrics.NewDispatchMetricsWithRegisterer(registry),
		logger:   logger,
	})
	return svc, sender, storage
}

func request(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func TestBuildServices_Topics(t *testing.T) {
	svc, _, _ := newTestServices(t, "cargo,order,store,route")

	topics := svc.router.Topics()
	sort.Strings(topics)
	assert.Equal(t, []string{
		"lms.cargo.commands",
		"lms.order.commands",
		"lms.route.commands",
		"lms.route.tasks",
		"lms.store.commands",
	}, topics)
}

func TestBuildServices_OnlyConfiguredKinds(t *testing.T) {
	svc, _, _ := newTestServices(t, "cargo")
	handler := svc.api.Handler()

	assert.Equal(t, []string{"lms.cargo.commands"}, svc.router.Topics())
	assert.Equal(t, http.StatusOK, request(t, handler, http.MethodGet, "/cargo", "").Code)
	assert.Equal(t, http.StatusNotFound, request(t, handler, http.MethodGet, "/store", "").Code)
	assert.Equal(t, http.StatusNotFound, request(t, handler, http.MethodPost, "/route/find", `{}`).Code)
}

func TestBuildServices_HTTPAndCommandsShareState(t *testing.T) {
	svc, sender, _ := newTestServices(t, "store")
	handler := svc.api.Handler()

	w := request(t, handler, http.MethodPost, "/store", `{"storeId":4,"location":"Kazan","capacity":100,"usedCapacity":10}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// UPDATE через topic команд виден в HTTP
	value, err := json.Marshal(domain.NewEvent(domain.EventUpdate, 4, domain.Store{StoreID: 4, Location: "Kazan", Capacity: 100, UsedCapacity: 40}))
	require.NoError(t, err)
	topic := kafka.CommandsTopic("lms", domain.KindStore)
	require.NoError(t, svc.router.Handle(context.Background(), dispatch.Message{
		ID:    dispatch.MessageID(topic, 0, 1),
		Topic: topic,
		Value: value,
	}))

	w = request(t, handler, http.MethodGet, "/store/4", "")
	require.Equal(t, http.StatusOK, w.Code)
	var record domain.Record[domain.Store]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, 40, record.Data.UsedCapacity)

	assert.Equal(t, 2, sender.count(kafka.RevisionsTopic("lms", domain.KindStore)))

	w = request(t, handler, http.MethodGet, "/store/4/audit", "")
	require.Equal(t, http.StatusOK, w.Code)
	var entries []domain.AuditEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 2)
}

func TestBuildServices_FindRoute(t *testing.T) {
	svc, sender, _ := newTestServices(t, "route")
	handler := svc.api.Handler()

	distances := []int{200, 180, 220}
	minutes := []int{20, 25, 15}
	for i := range distances {
		body, err := json.Marshal(domain.Route{
			RouteID:        i + 1,
			FromStoreID:    1,
			ToStoreID:      2,
			PathFromTo:     "A-B",
			DistanceFromTo: distances[i],
			MinutesFromTo:  minutes[i],
		})
		require.NoError(t, err)
		w := request(t, handler, http.MethodPost, "/route", string(body))
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	testCases := []struct {
		rule    domain.RouteRuleType
		routeID int
	}{
		{rule: domain.RouteRuleMinimalDistance, routeID: 2},
		{rule: domain.RouteRuleMinimalMinutes, routeID: 3},
	}
	for _, tc := range testCases {
		t.Run(string(tc.rule), func(t *testing.T) {
			w := request(t, handler, http.MethodPost, "/route/find",
				`{"orderId":10,"fromStoreId":1,"toStoreId":2,"ruleType":"`+string(tc.rule)+`"}`)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var found domain.RouteTaskPayload
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &found))
			require.NotNil(t, found.Route)
			assert.Equal(t, tc.routeID, found.Route.RouteID)
		})
	}
	assert.Equal(t, 2, sender.count(kafka.RouteFoundTopic("lms")))

	w := request(t, handler, http.MethodPost, "/route/find", `{"orderId":11,"fromStoreId":2,"toStoreId":1,"ruleType":"MINIMAL_DISTANCE"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
