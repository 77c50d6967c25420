package training

import (
	"fmt"

	"StockSense/internal/domain/models"
)

// Fold is one chronological split: training rows [0, TrainEnd) and
// validation rows [ValStart, ValEnd). Rows between TrainEnd and ValStart are
// purged because their targets look into the validation window.
type Fold struct {
	TrainEnd int
	ValStart int
	ValEnd   int
}

// TimeSeriesSplit splits n ordered rows into k expanding-window folds. Each
// validation block holds n/(k+1) rows and lies strictly after its training
// rows, with gap rows dropped in between. Any block smaller than minSamples
// fails with ErrTrainingDataTooSmall.
func TimeSeriesSplit(n, k, gap, minSamples int) ([]Fold, error) {
	if k < 2 {
		k = 2
	}
	if gap < 0 {
		gap = 0
	}
	test := n / (k + 1)
	if test < minSamples || test == 0 {
		return nil, fmt.Errorf("%d rows over %d folds gives %d validation rows, need %d: %w",
			n, k, test, minSamples, models.ErrTrainingDataTooSmall)
	}
	first := n - k*test
	if first-gap < minSamples {
		return nil, fmt.Errorf("first fold trains on %d rows after a %d-row gap, need %d: %w",
			first-gap, gap, minSamples, models.ErrTrainingDataTooSmall)
	}
	folds := make([]Fold, k)
	for i := range folds {
		start := first + i*test
		folds[i] = Fold{TrainEnd: start - gap, ValStart: start, ValEnd: start + test}
	}
	return folds, nil
}
