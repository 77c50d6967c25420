package models

// Requests for prediction HTTP endpoints. Defined in domain for reuse by the CLI.

type PredictRequest struct {
	Ticker string `param:"ticker" json:"ticker" validate:"required,max=16"`
	AsOf   string `query:"as_of" json:"as_of"`
}

type PredictAllRequest struct {
	Tickers []string `query:"tickers" json:"tickers"`
}

type RecommendationsRequest struct {
	TopN int `query:"top_n" json:"top_n" default:"5"`
}

type TrainRequest struct {
	Tickers        []string `json:"tickers"`
	PredictionDays int      `json:"prediction_days" default:"7" validate:"gte=1,lte=30"`
	Async          bool     `json:"async"`
}
