package training

import (
	"fmt"
	"math"

	"StockSense/internal/domain/models"
)

// Prediction is the blended output of a TrainedModel for one row.
type Prediction struct {
	Return float64
	Price  float64
	// MemberPrices holds each member's implied price by member name.
	MemberPrices map[string]float64
	// Agreement is 100 when members agree exactly and falls to 0 as their
	// spread reaches the mean predicted price.
	Agreement float64
}

// Predict applies every member of m to a scaled row and blends the returns
// by weight. currentPrice converts returns into prices.
func Predict(m *models.TrainedModel, x []float64, currentPrice float64) (Prediction, error) {
	if m == nil {
		return Prediction{}, models.ErrMissingModel
	}
	if len(m.Members) == 0 {
		return Prediction{}, fmt.Errorf("%s: model has no members", m.Ticker)
	}
	if len(m.Features) > 0 && len(x) != len(m.Features) {
		return Prediction{}, fmt.Errorf("%s: row has %d features, model expects %d", m.Ticker, len(x), len(m.Features))
	}

	out := Prediction{MemberPrices: make(map[string]float64, len(m.Members))}
	totalWeight := 0.0
	prices := make([]float64, 0, len(m.Members))
	for i := range m.Members {
		mem := &m.Members[i]
		var r float64
		switch {
		case mem.Kind == models.MemberBooster && mem.Booster != nil:
			r = PredictBooster(mem.Booster, x)
		case mem.Kind == models.MemberLinear && mem.Linear != nil:
			r = PredictLinear(mem.Linear, x)
		default:
			return Prediction{}, fmt.Errorf("%s: member %s is empty", m.Ticker, mem.Name)
		}
		out.Return += mem.Weight * r
		totalWeight += mem.Weight
		p := currentPrice * (1 + r)
		out.MemberPrices[mem.Name] = p
		prices = append(prices, p)
	}
	if totalWeight > 0 {
		out.Return /= totalWeight
	}
	out.Price = currentPrice * (1 + out.Return)
	out.Agreement = agreement(prices)
	return out, nil
}

func agreement(prices []float64) float64 {
	if len(prices) < 2 {
		return 100
	}
	lo, hi, sum := prices[0], prices[0], 0.0
	for _, p := range prices {
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
		sum += p
	}
	spread := (hi - lo) / (math.Abs(sum/float64(len(prices))) + 1e-10)
	return 100 * (1 - math.Min(spread, 1))
}
