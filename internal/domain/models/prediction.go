package models

import "time"

// Signal is the trading decision attached to a prediction.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// MarketRegime classifies the trailing one-year trend.
type MarketRegime string

const (
	RegimeBull     MarketRegime = "Bull"
	RegimeBear     MarketRegime = "Bear"
	RegimeSideways MarketRegime = "Sideways"
)

// RegimeState is the regime detector output.
type RegimeState struct {
	Regime       MarketRegime `json:"regime"`
	AnnualReturn float64      `json:"annual_return"`
	AnnualVol    float64      `json:"annual_volatility"`
}

// TechnicalIndicators is the indicator snapshot reported with a prediction.
// Extra holds any further indicator name/value pairs.
type TechnicalIndicators struct {
	RSI14         float64            `json:"rsi_14"`
	RSI5          float64            `json:"rsi_5"`
	VolatilityPct float64            `json:"volatility"`
	MACDHist      float64            `json:"macd_hist"`
	SMACross5_20  float64            `json:"sma_cross_5_20"`
	VolumeRatio   float64            `json:"volume_ratio"`
	MarketRegime  MarketRegime       `json:"market_regime"`
	Extra         map[string]float64 `json:"extra,omitempty"`
}

// PredictionResult is the externally visible outcome of one prediction.
type PredictionResult struct {
	Ticker            string              `json:"ticker"`
	CurrentPrice      float64             `json:"current_price"`
	PredictedPrice    float64             `json:"predicted_price"`
	PredictedReturn   float64             `json:"predicted_return"`
	Signal            Signal              `json:"signal"`
	Confidence        float64             `json:"confidence"`
	Reasoning         string              `json:"reasoning"`
	AsOfDate          time.Time           `json:"as_of_date"`
	PredictionDate    time.Time           `json:"prediction_date"`
	HorizonDays       int                 `json:"horizon_days"`
	EnsembleAgreement float64             `json:"ensemble_agreement"`
	ModelPredictions  map[string]float64  `json:"model_predictions"`
	Technical         TechnicalIndicators `json:"technical_indicators"`
	ModelMetrics      FitMetrics          `json:"model_metrics"`
	ModelVersion      int64               `json:"model_version"`
	GeneratedAt       time.Time           `json:"generated_at"`
}

// Stat summarises a numeric column.
type Stat struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Std  float64 `json:"std,omitempty"`
}

// BatchSummary counts outcomes of a batch prediction.
type BatchSummary struct {
	TotalStocks int     `json:"total_stocks"`
	Buy         int     `json:"buy_signals"`
	Hold        int     `json:"hold_signals"`
	Sell        int     `json:"sell_signals"`
	Errors      int     `json:"errors"`
	SuccessRate float64 `json:"success_rate"`
}

// BatchStatistics describes the successful predictions of a batch.
type BatchStatistics struct {
	Confidence        Stat `json:"confidence"`
	PredictedReturns  Stat `json:"predicted_returns"`
	EnsembleAgreement Stat `json:"ensemble_agreement"`
}

// SignalBuckets groups predictions by signal, each sorted by confidence.
type SignalBuckets struct {
	Buy  []PredictionResult `json:"buy"`
	Hold []PredictionResult `json:"hold"`
	Sell []PredictionResult `json:"sell"`
}

// BatchPrediction is the result of predicting many tickers. Tickers that
// failed are listed in Errors and absent from Results.
type BatchPrediction struct {
	Results     []PredictionResult `json:"-"`
	Predictions SignalBuckets      `json:"predictions"`
	Summary     BatchSummary       `json:"summary"`
	Statistics  *BatchStatistics   `json:"statistics,omitempty"`
	Errors      map[string]string  `json:"errors,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

// Recommendations lists the strongest BUY and SELL calls.
type Recommendations struct {
	TopN     int                `json:"top_n"`
	TopBuys  []PredictionResult `json:"top_buys"`
	TopSells []PredictionResult `json:"top_sells"`
	Errors   map[string]string  `json:"errors,omitempty"`
}

// TickerModelInfo describes one published model.
type TickerModelInfo struct {
	Ticker          string                `json:"ticker"`
	Version         int64                 `json:"version"`
	Metrics         FitMetrics            `json:"metrics"`
	MemberMetrics   map[string]FitMetrics `json:"member_metrics"`
	EnsembleWeights map[string]float64    `json:"ensemble_weights"`
	SelectedParams  BoosterParams         `json:"selected_params"`
	DataPoints      int                   `json:"data_points"`
	DateFrom        time.Time             `json:"date_from"`
	DateTo          time.Time             `json:"date_to"`
	TrainedAt       time.Time             `json:"trained_at"`
}

// ModelInfo describes every published model.
type ModelInfo struct {
	HorizonDays    int                        `json:"prediction_days"`
	TotalEnsembles int                        `json:"total_ensembles"`
	FeatureCount   int                        `json:"feature_count"`
	Features       []string                   `json:"features"`
	CVFolds        int                        `json:"cv_folds"`
	Models         map[string]TickerModelInfo `json:"models"`
	Missing        []string                   `json:"missing,omitempty"`
}

// TrainReport summarises a training run over one or more tickers.
type TrainReport struct {
	Trained     []string          `json:"trained"`
	Errors      map[string]string `json:"errors,omitempty"`
	HorizonDays int               `json:"prediction_days"`
	Features    int               `json:"features"`
	SubModels   []string          `json:"sub_models"`
	Queued      bool              `json:"queued"`
	JobID       string            `json:"job_id,omitempty"`
	DurationMS  int64             `json:"duration_ms"`
}

// HealthStatus reports pipeline readiness.
type HealthStatus struct {
	Status          string      `json:"status"`
	ModelsLoaded    int         `json:"models_loaded"`
	TickersTracked  int         `json:"stocks_available"`
	HorizonDays     int         `json:"prediction_days"`
	AvailableModels []string    `json:"available_tickers"`
	Queue           *QueueStats `json:"queue,omitempty"`
	Timestamp       time.Time   `json:"timestamp"`
}

// QueueStats are the retrain queue list sizes.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Retrying   int64 `json:"retrying"`
	Dead       int64 `json:"dead"`
}
