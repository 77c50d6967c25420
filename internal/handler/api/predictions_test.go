package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"StockSense/internal/domain/models"
	"StockSense/internal/service/ratelimit"
	"StockSense/internal/usecase"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Predict(ctx context.Context, ticker string, asOf time.Time) (*models.PredictionResult, error) {
	args := m.Called(ctx, ticker, asOf)
	res, _ := args.Get(0).(*models.PredictionResult)
	return res, args.Error(1)
}

func (m *mockService) PredictAll(ctx context.Context, tickers []string, _ usecase.ProgressFunc) (*models.BatchPrediction, error) {
	args := m.Called(ctx, tickers)
	res, _ := args.Get(0).(*models.BatchPrediction)
	return res, args.Error(1)
}

func (m *mockService) Recommendations(ctx context.Context, topN int) (*models.Recommendations, error) {
	args := m.Called(ctx, topN)
	res, _ := args.Get(0).(*models.Recommendations)
	return res, args.Error(1)
}

func (m *mockService) TrainAll(ctx context.Context, tickers []string, horizon int, _ usecase.ProgressFunc) (*models.TrainReport, error) {
	args := m.Called(ctx, tickers, horizon)
	res, _ := args.Get(0).(*models.TrainReport)
	return res, args.Error(1)
}

func (m *mockService) EnqueueTraining(ctx context.Context, tickers []string, horizon int) (*models.TrainReport, error) {
	args := m.Called(ctx, tickers, horizon)
	res, _ := args.Get(0).(*models.TrainReport)
	return res, args.Error(1)
}

func (m *mockService) ModelInfo(ctx context.Context) (*models.ModelInfo, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*models.ModelInfo)
	return res, args.Error(1)
}

func (m *mockService) Health(ctx context.Context) (*models.HealthStatus, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*models.HealthStatus)
	return res, args.Error(1)
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(svc PredictionService, rl *ratelimit.KeyedLimiter) *echo.Echo {
	e := echo.New()
	NewPredictionsHandler(svc, rl).RegisterRoutes(e)
	return e
}

func do(t *testing.T, e *echo.Echo, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func errorCode(t *testing.T, env envelope) string {
	t.Helper()
	var errs []struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &errs))
	require.NotEmpty(t, errs)
	return errs[0].Code
}

func TestPredict(t *testing.T) {
	svc := &mockService{}
	svc.On("Predict", mock.Anything, "AAPL", time.Time{}).Return(&models.PredictionResult{
		Ticker:     "AAPL",
		Signal:     models.SignalBuy,
		Confidence: 72.5,
	}, nil)
	e := newTestServer(svc, nil)

	rec, env := do(t, e, http.MethodGet, "/api/predict/AAPL", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var res models.PredictionResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "AAPL", res.Ticker)
	assert.Equal(t, models.SignalBuy, res.Signal)
	assert.InDelta(t, 72.5, res.Confidence, 1e-9)
	svc.AssertExpectations(t)
}

func TestPredict_AsOf(t *testing.T) {
	svc := &mockService{}
	asOf := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	svc.On("Predict", mock.Anything, "MSFT", asOf).Return(&models.PredictionResult{Ticker: "MSFT"}, nil)
	e := newTestServer(svc, nil)

	rec, _ := do(t, e, http.MethodGet, "/api/predict/MSFT?as_of=2024-03-15", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)

	rec, env := do(t, e, http.MethodGet, "/api/predict/MSFT?as_of=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ERR_INVALID_DATE", errorCode(t, env))
}

func TestPredict_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"missing model", fmt.Errorf("load AAPL: %w", models.ErrMissingModel), http.StatusNotFound, "ERR_MODEL_NOT_TRAINED"},
		{"missing scaler", fmt.Errorf("load AAPL: %w", models.ErrMissingScaler), http.StatusNotFound, "ERR_MODEL_NOT_TRAINED"},
		{"short history", fmt.Errorf("AAPL: %w", models.ErrInsufficientHistory), http.StatusUnprocessableEntity, "ERR_INSUFFICIENT_DATA"},
		{"cleaned away", fmt.Errorf("AAPL: %w", models.ErrInsufficientData), http.StatusUnprocessableEntity, "ERR_INSUFFICIENT_DATA"},
		{"empty features", models.ErrEmptyFeatureSet, http.StatusUnprocessableEntity, "ERR_INSUFFICIENT_DATA"},
		{"unexpected", fmt.Errorf("clickhouse: connection refused"), http.StatusInternalServerError, "ERR_INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockService{}
			svc.On("Predict", mock.Anything, "AAPL", time.Time{}).Return(nil, tt.err)
			e := newTestServer(svc, nil)

			rec, env := do(t, e, http.MethodGet, "/api/predict/AAPL", "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.status, env.Status)
			assert.Equal(t, tt.code, errorCode(t, env))
		})
	}
}

func TestPredictAll_RoutesBeforeTicker(t *testing.T) {
	svc := &mockService{}
	svc.On("PredictAll", mock.Anything, []string{"AAPL,MSFT"}).Return(&models.BatchPrediction{
		Summary: models.BatchSummary{TotalStocks: 2, Buy: 1, Hold: 1, SuccessRate: 100},
	}, nil)
	e := newTestServer(svc, nil)

	rec, env := do(t, e, http.MethodGet, "/api/predict/all?tickers=AAPL,MSFT", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var res models.BatchPrediction
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 2, res.Summary.TotalStocks)
	svc.AssertNotCalled(t, "Predict", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecommendations(t *testing.T) {
	svc := &mockService{}
	svc.On("Recommendations", mock.Anything, usecase.DefaultTopN).Return(&models.Recommendations{TopN: 5}, nil)
	svc.On("Recommendations", mock.Anything, 3).Return(&models.Recommendations{TopN: 3}, nil)
	e := newTestServer(svc, nil)

	rec, _ := do(t, e, http.MethodGet, "/api/recommendations", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, e, http.MethodGet, "/api/recommendations?top_n=3", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := do(t, e, http.MethodGet, "/api/recommendations?top_n=40", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ERR_BAD_REQUEST", errorCode(t, env))
	svc.AssertExpectations(t)
}

func TestTrain_Sync(t *testing.T) {
	svc := &mockService{}
	svc.On("TrainAll", mock.Anything, []string{"AAPL"}, 5).Return(&models.TrainReport{
		Trained:     []string{"AAPL"},
		HorizonDays: 5,
	}, nil)
	e := newTestServer(svc, nil)

	rec, env := do(t, e, http.MethodPost, "/api/train", `{"tickers":["AAPL"],"prediction_days":5}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	var res models.TrainReport
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, []string{"AAPL"}, res.Trained)
	svc.AssertExpectations(t)
}

func TestTrain_DefaultHorizon(t *testing.T) {
	svc := &mockService{}
	svc.On("TrainAll", mock.Anything, []string(nil), 7).Return(&models.TrainReport{HorizonDays: 7}, nil)
	e := newTestServer(svc, nil)

	rec, _ := do(t, e, http.MethodPost, "/api/train", `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestTrain_Validation(t *testing.T) {
	e := newTestServer(&mockService{}, nil)

	rec, env := do(t, e, http.MethodPost, "/api/train", `{"prediction_days":31}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ERR_LTE", errorCode(t, env))
}

func TestTrain_Async(t *testing.T) {
	svc := &mockService{}
	svc.On("EnqueueTraining", mock.Anything, []string{"AAPL"}, 7).Return(&models.TrainReport{Queued: true, HorizonDays: 7}, nil).Once()
	e := newTestServer(svc, nil)

	rec, env := do(t, e, http.MethodPost, "/api/train", `{"tickers":["AAPL"],"async":true}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	var res models.TrainReport
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Queued)

	svc.On("EnqueueTraining", mock.Anything, []string{"AAPL"}, 7).Return(nil, usecase.ErrQueueUnavailable)
	rec, env = do(t, e, http.MethodPost, "/api/train", `{"tickers":["AAPL"],"async":true}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "ERR_QUEUE_UNAVAILABLE", errorCode(t, env))
}

func TestTrain_RateLimited(t *testing.T) {
	svc := &mockService{}
	svc.On("TrainAll", mock.Anything, mock.Anything, mock.Anything).Return(&models.TrainReport{}, nil)
	// 1 per minute gives a burst of one
	e := newTestServer(svc, ratelimit.New(1))

	rec, _ := do(t, e, http.MethodPost, "/api/train", `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := do(t, e, http.MethodPost, "/api/train", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "ERR_RATE_LIMITED", errorCode(t, env))
	svc.AssertNumberOfCalls(t, "TrainAll", 1)
}

func TestModelInfoAndHealth(t *testing.T) {
	svc := &mockService{}
	svc.On("ModelInfo", mock.Anything).Return(&models.ModelInfo{HorizonDays: 7, TotalEnsembles: 2}, nil)
	svc.On("Health", mock.Anything).Return(&models.HealthStatus{Status: "healthy", ModelsLoaded: 2}, nil)
	e := newTestServer(svc, nil)

	rec, env := do(t, e, http.MethodGet, "/api/model/info", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var info models.ModelInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, 2, info.TotalEnsembles)

	rec, env = do(t, e, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var health models.HealthStatus
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "healthy", health.Status)
}
