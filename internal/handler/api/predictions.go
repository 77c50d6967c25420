package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"StockSense/internal/domain/models"
	"StockSense/internal/service/ratelimit"
	"StockSense/internal/usecase"
	xhttp "StockSense/pkg/http"
	applogger "StockSense/pkg/logger"
)

// PredictionService is the use case surface the HTTP API needs.
type PredictionService interface {
	Predict(ctx context.Context, ticker string, asOf time.Time) (*models.PredictionResult, error)
	PredictAll(ctx context.Context, tickers []string, progress usecase.ProgressFunc) (*models.BatchPrediction, error)
	Recommendations(ctx context.Context, topN int) (*models.Recommendations, error)
	TrainAll(ctx context.Context, tickers []string, horizon int, progress usecase.ProgressFunc) (*models.TrainReport, error)
	EnqueueTraining(ctx context.Context, tickers []string, horizon int) (*models.TrainReport, error)
	ModelInfo(ctx context.Context) (*models.ModelInfo, error)
	Health(ctx context.Context) (*models.HealthStatus, error)
}

var _ PredictionService = (*usecase.Pipeline)(nil)

// PredictionsHandler serves the prediction endpoints under /api.
type PredictionsHandler struct {
	svc     PredictionService
	trainRL *ratelimit.KeyedLimiter
	l       *applogger.Logger
}

func NewPredictionsHandler(svc PredictionService, trainRL *ratelimit.KeyedLimiter) *PredictionsHandler {
	return &PredictionsHandler{svc: svc, trainRL: trainRL}
}

// SetLogger injects a structured logger.
func (h *PredictionsHandler) SetLogger(l *applogger.Logger) { h.l = l }

func (h *PredictionsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	// static route wins over :ticker in echo's router
	g.GET("/predict/all", h.PredictAll)
	g.GET("/predict/:ticker", h.Predict)
	g.GET("/recommendations", h.Recommendations)
	g.POST("/train", h.Train)
	g.GET("/model/info", h.ModelInfo)
	g.GET("/health", h.Health)
}

func (h *PredictionsHandler) Predict(c echo.Context) error {
	req := &models.PredictRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	var asOf time.Time
	if req.AsOf != "" {
		t, ok := xhttp.ParseTime(req.AsOf)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_INVALID_DATE", "as_of", "as_of must be a date (YYYY-MM-DD) or RFC3339 time", http.StatusBadRequest))
		}
		asOf = t
	}

	res, err := h.svc.Predict(c.Request().Context(), req.Ticker, asOf)
	if err != nil {
		return h.fail(c, "predict", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PredictionsHandler) PredictAll(c echo.Context) error {
	req := &models.PredictAllRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.PredictAll(c.Request().Context(), req.Tickers, nil)
	if err != nil {
		return h.fail(c, "predict_all", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PredictionsHandler) Recommendations(c echo.Context) error {
	req := &models.RecommendationsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if req.TopN < 1 || req.TopN > usecase.MaxTopN {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("top_n must be between 1 and %d", usecase.MaxTopN))
	}
	res, err := h.svc.Recommendations(c.Request().Context(), req.TopN)
	if err != nil {
		return h.fail(c, "recommendations", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PredictionsHandler) Train(c echo.Context) error {
	if h.trainRL != nil && !h.trainRL.Allow(c.RealIP()) {
		if h.l != nil {
			h.l.Warn("api.train rate_limited", applogger.String("remote", c.RealIP()))
		}
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many training requests"))
	}
	req := &models.TrainRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	ctx := c.Request().Context()
	if req.Async {
		res, err := h.svc.EnqueueTraining(ctx, req.Tickers, req.PredictionDays)
		if err != nil {
			return h.fail(c, "train_enqueue", err)
		}
		return xhttp.AcceptedResponse(c, res)
	}
	res, err := h.svc.TrainAll(ctx, req.Tickers, req.PredictionDays, nil)
	if err != nil {
		return h.fail(c, "train", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PredictionsHandler) ModelInfo(c echo.Context) error {
	res, err := h.svc.ModelInfo(c.Request().Context())
	if err != nil {
		return h.fail(c, "model_info", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PredictionsHandler) Health(c echo.Context) error {
	res, err := h.svc.Health(c.Request().Context())
	if err != nil {
		return h.fail(c, "health", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PredictionsHandler) fail(c echo.Context, op string, err error) error {
	appErr := toAppError(err)
	if h.l != nil {
		if appErr.Status >= http.StatusInternalServerError {
			h.l.Error("api."+op+" failed", applogger.Error(err))
		} else {
			h.l.Debug("api."+op+" rejected", applogger.String("code", appErr.Code), applogger.Error(err))
		}
	}
	return xhttp.AppErrorResponse(c, appErr)
}

// toAppError maps pipeline errors onto HTTP errors.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, models.ErrMissingModel), errors.Is(err, models.ErrMissingScaler):
		return xhttp.NotFoundError("ERR_MODEL_NOT_TRAINED", "ticker", "no trained model for ticker").WithError(err)
	case errors.Is(err, models.ErrInsufficientHistory),
		errors.Is(err, models.ErrInsufficientData),
		errors.Is(err, models.ErrEmptyFeatureSet),
		errors.Is(err, models.ErrTrainingDataTooSmall):
		return xhttp.UnprocessableError("ERR_INSUFFICIENT_DATA", "ticker", err.Error()).WithError(err)
	case errors.Is(err, usecase.ErrQueueUnavailable):
		return xhttp.UnavailableError("ERR_QUEUE_UNAVAILABLE", "async", "async training is not available").WithError(err)
	case errors.Is(err, context.DeadlineExceeded):
		return xhttp.TimeoutError("request timed out").WithError(err)
	default:
		return xhttp.InternalError("Something went wrong").WithError(err)
	}
}
