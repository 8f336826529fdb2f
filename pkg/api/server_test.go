package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/tenantops/subkeeper/pkg/billing"
	"github.com/tenantops/subkeeper/pkg/gateway"
	"github.com/tenantops/subkeeper/pkg/notify"
	"github.com/tenantops/subkeeper/pkg/scheduler"
	"github.com/tenantops/subkeeper/pkg/storage"
	"github.com/tenantops/subkeeper/pkg/usage"
	"github.com/tenantops/subkeeper/pkg/webhooks"
)

const testSecret = "whsec_test"

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []*notify.Alert
}

func (n *recordingNotifier) Notify(ctx context.Context, alert *notify.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return nil
}

type serverFixture struct {
	server    *Server
	store     *storage.MemoryStore
	scheduler *scheduler.Scheduler
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := storage.NewMemoryStore()
	notifier := &recordingNotifier{}
	gw := gateway.NewHMACGateway(testSecret)

	billingSvc := billing.NewService(store, gw, notifier, logger)
	usageSvc := usage.NewService(store, gw, notifier, logger)
	processor := webhooks.NewProcessor(gw, store, nil, billingSvc, notifier, nil, logger, webhooks.DefaultBackoffConfig())

	tracker := scheduler.NewExecutionTracker(store, notifier, nil, logger)
	sched := scheduler.New(tracker, notifier, logger, time.UTC)

	return &serverFixture{
		server:    NewServer(store, processor, billingSvc, usageSvc, sched, nil, logger),
		store:     store,
		scheduler: sched,
	}
}

// do runs a request through the full router and returns the recorder.
func (f *serverFixture) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, body)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(dest))
}

func TestUnknownRoute(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(t, "GET", "/api/v1/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestIDOnResponses(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(t, "GET", "/api/v1/plans", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
