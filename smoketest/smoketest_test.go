package smoketest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	res := Run(context.Background())
	require.True(t, res.Passed)
	require.Len(t, res.Scenarios, len(scenarios))

	for _, s := range res.Scenarios {
		require.True(t, s.Passed, "%s: %s", s.Name, s.Error)
		require.Empty(t, s.Error)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Run(ctx)
	require.False(t, res.Passed)
	for _, s := range res.Scenarios {
		require.False(t, s.Passed)
		require.NotEmpty(t, s.Error)
	}
}

func TestHandleSmokeTest(t *testing.T) {
	t.Run("smoke test success", func(t *testing.T) {
		var gotResult bool
		smokeTest := HandleSmokeTest(context.Background(), Options{
			Timeout: time.Second * 5,
			SendResult: func(_ context.Context, res Results) error {
				require.True(t, res.Passed)
				gotResult = true
				return nil
			},
		})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "http://localhost/smoke-test", nil)
		smokeTest.ServeHTTP(rec, req)

		require.True(t, gotResult)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var res Results
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		require.True(t, res.Passed)
		require.Len(t, res.Scenarios, len(scenarios))
	})

	t.Run("smoke test failed - canceled request", func(t *testing.T) {
		smokeTest := HandleSmokeTest(context.Background(), Options{})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "http://localhost/smoke-test", nil).WithContext(ctx)
		smokeTest.ServeHTTP(rec, req)

		require.Equal(t, http.StatusInternalServerError, rec.Code)

		var res Results
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		require.False(t, res.Passed)
	})
}
