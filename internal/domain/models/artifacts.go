package models

import "time"

// FeatureStat is the training-time distribution of one feature.
type FeatureStat struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// ScalerState is the per-ticker z-score transform fitted during training.
// It is replaced on retraining and never modified in place.
type ScalerState struct {
	Ticker   string                 `json:"ticker"`
	Features []string               `json:"features"`
	Stats    map[string]FeatureStat `json:"stats"`
	Samples  int                    `json:"samples"`
	FittedAt time.Time              `json:"fitted_at"`
}

// FitMetrics aggregates held-out fold metrics.
type FitMetrics struct {
	MAE     float64 `json:"mae"`
	RMSE    float64 `json:"rmse"`
	R2      float64 `json:"r2"`
	MAPE    float64 `json:"mape"`
	MAEStd  float64 `json:"mae_std"`
	RMSEStd float64 `json:"rmse_std"`
	R2Std   float64 `json:"r2_std"`
	MAPEStd float64 `json:"mape_std"`
	Folds   int     `json:"folds"`
}

// Growth policies for tree construction.
const (
	GrowthLeafWise  = "leaf"
	GrowthDepthWise = "depth"
)

// BoosterParams are the hyperparameters of one gradient-boosted tree model.
type BoosterParams struct {
	Growth          string  `json:"growth" yaml:"growth"`
	NumLeaves       int     `json:"num_leaves" yaml:"num_leaves"`
	MaxDepth        int     `json:"max_depth" yaml:"max_depth"`
	LearningRate    float64 `json:"learning_rate" yaml:"learning_rate"`
	FeatureFraction float64 `json:"feature_fraction" yaml:"feature_fraction"`
	L1              float64 `json:"l1" yaml:"l1"`
	L2              float64 `json:"l2" yaml:"l2"`
	MinSplitGain    float64 `json:"min_split_gain" yaml:"min_split_gain"`
	MinChildSamples int     `json:"min_child_samples" yaml:"min_child_samples"`
	Rounds          int     `json:"rounds" yaml:"rounds"`
	EarlyStopping   int     `json:"early_stopping" yaml:"early_stopping"`
	Seed            int64   `json:"seed" yaml:"seed"`
}

// TreeNode is one node of a regression tree stored in a flat array.
// Leaves have Feature == -1.
type TreeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v,omitempty"`
}

// Tree is a fitted regression tree.
type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

// BoosterModel is a fitted gradient-boosted ensemble of trees.
type BoosterModel struct {
	Params        BoosterParams `json:"params"`
	BaseScore     float64       `json:"base_score"`
	Trees         []Tree        `json:"trees"`
	BestIteration int           `json:"best_iteration"`
}

// LinearModel is a fitted ridge regression.
type LinearModel struct {
	Intercept float64   `json:"intercept"`
	Coef      []float64 `json:"coef"`
	Alpha     float64   `json:"alpha"`
}

// Ensemble member kinds.
const (
	MemberBooster = "booster"
	MemberLinear  = "linear"
)

// EnsembleMember is one weighted sub-model of a TrainedModel.
type EnsembleMember struct {
	Name    string        `json:"name"`
	Kind    string        `json:"kind"`
	Weight  float64       `json:"weight"`
	Booster *BoosterModel `json:"booster,omitempty"`
	Linear  *LinearModel  `json:"linear,omitempty"`
	Metrics FitMetrics    `json:"metrics"`
}

// TrainedModel is the published per-ticker model. A retrain publishes a new
// version; existing versions are never mutated.
// ScalerVersion pins the scaler the members were fitted against; zero only
// for models stored before the link existed.
type TrainedModel struct {
	Ticker        string           `json:"ticker"`
	Version       int64            `json:"version"`
	ScalerVersion int64            `json:"scaler_version,omitempty"`
	HorizonDays   int              `json:"horizon_days"`
	Features      []string         `json:"features"`
	Selected      BoosterParams    `json:"selected_params"`
	Metrics       FitMetrics       `json:"metrics"`
	Members       []EnsembleMember `json:"members"`
	DataPoints    int              `json:"data_points"`
	DateFrom      time.Time        `json:"date_from"`
	DateTo        time.Time        `json:"date_to"`
	TrainedAt     time.Time        `json:"trained_at"`
}
