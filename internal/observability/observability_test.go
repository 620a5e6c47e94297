package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	t.Run("json logger", func(t *testing.T) {
		logger, err := NewLogger("info", "json")
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zap.InfoLevel))
		assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("console logger", func(t *testing.T) {
		logger, err := NewLogger("debug", "console")
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("defaults", func(t *testing.T) {
		logger, err := NewLogger("", "")
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zap.InfoLevel))
	})

	t.Run("invalid level", func(t *testing.T) {
		logger, err := NewLogger("loud", "json")
		assert.Nil(t, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("invalid format", func(t *testing.T) {
		_, err := NewLogger("info", "xml")
		assert.Error(t, err)
	})
}

func TestRequestFields(t *testing.T) {
	assert.Empty(t, RequestFields(context.Background()))

	var fields []Field
	h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fields = RequestFields(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.Len(t, fields, 1)
	assert.Equal(t, "request_id", fields[0].Key)
}

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(DecisionsTotal.WithLabelValues("deny"))
	RecordDecision(false)
	assert.Equal(t, before+1, testutil.ToFloat64(DecisionsTotal.WithLabelValues("deny")))

	before = testutil.ToFloat64(TokenStoreOperationsTotal.WithLabelValues("store", PathDurable))
	RecordTokenStore("store", PathDurable)
	assert.Equal(t, before+1, testutil.ToFloat64(TokenStoreOperationsTotal.WithLabelValues("store", PathDurable)))
}

func TestGuard(t *testing.T) {
	t.Run("production logs and exits after grace period", func(t *testing.T) {
		core, logs := observer.New(zap.ErrorLevel)
		guard := NewGuard(zap.New(core), true, time.Millisecond)

		var wg sync.WaitGroup
		wg.Add(1)
		var code int
		guard.exit = func(c int) {
			code = c
			wg.Done()
		}

		guard.Go("sweeper", func() { panic("boom") })
		wg.Wait()

		assert.Equal(t, 1, code)
		require.GreaterOrEqual(t, logs.Len(), 1)
		assert.Equal(t, "uncaught fault", logs.All()[0].Message)
	})

	t.Run("development re-panics", func(t *testing.T) {
		guard := NewGuard(zap.NewNop(), false, 0)

		assert.PanicsWithValue(t, "boom", func() {
			defer guard.Recover("inline")
			panic("boom")
		})
	})

	t.Run("no panic is a no-op", func(t *testing.T) {
		guard := NewGuard(zap.NewNop(), true, 0)
		guard.exit = func(int) { t.Fatal("exit called") }

		func() {
			defer guard.Recover("quiet")
		}()
	})
}
