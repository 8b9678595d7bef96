package fl

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/absmach/flround/pkg/params"
)

type MeanAggregator struct{}

func NewMeanAggregator() Aggregator {
	return &MeanAggregator{}
}

// Aggregate computes the elementwise mean of every layer slot. With nil
// weights each contribution counts once; otherwise the result is
// sum(w_i * x_i) / sum(w_i). Terms are sorted before summing so the result
// does not depend on the order of contributions.
func (m *MeanAggregator) Aggregate(_ context.Context, contributions []params.ParameterSet, weights []float64) (params.ParameterSet, error) {
	if len(contributions) == 0 {
		return params.ParameterSet{}, ErrNoContributions
	}

	total := float64(len(contributions))
	if weights != nil {
		var err error
		if total, err = weightTotal(weights, len(contributions)); err != nil {
			return params.ParameterSet{}, err
		}
	}

	ref := contributions[0]
	for i, c := range contributions[1:] {
		if !ref.SameKeys(c) {
			return params.ParameterSet{}, fmt.Errorf("%w: contribution %d has %v, expected %v", ErrLayerMismatch, i+1, c.Names(), ref.Names())
		}
	}

	terms := make([]float64, len(contributions))
	layers := make([]params.Layer, len(contributions))
	entries := make([]params.Entry, 0, ref.Len())
	for _, name := range ref.Names() {
		for i, c := range contributions {
			layers[i], _ = c.Layer(name)
			if !layers[i].SameShape(layers[0]) {
				return params.ParameterSet{}, fmt.Errorf("%w: layer %s", ErrShapeMismatch, name)
			}
		}

		weight := make([]float64, layers[0].Weight.Len())
		for j := range weight {
			weight[j] = mean(terms, weights, total, func(i int) float64 { return layers[i].Weight.Data[j] })
		}
		bias := make([]float64, layers[0].Bias.Len())
		for j := range bias {
			bias[j] = mean(terms, weights, total, func(i int) float64 { return layers[i].Bias.Data[j] })
		}

		w, err := params.NewTensor(layers[0].Weight.Shape, weight)
		if err != nil {
			return params.ParameterSet{}, err
		}
		b, err := params.NewTensor(layers[0].Bias.Shape, bias)
		if err != nil {
			return params.ParameterSet{}, err
		}
		entries = append(entries, params.Entry{Name: name, Layer: params.Layer{Weight: w, Bias: b}})
	}

	return params.New(entries...)
}

func mean(terms, weights []float64, total float64, value func(i int) float64) float64 {
	for i := range terms {
		terms[i] = value(i)
		if weights != nil {
			terms[i] *= weights[i]
		}
	}

	return sortedSum(terms) / total
}

func sortedSum(terms []float64) float64 {
	slices.Sort(terms)
	var sum float64
	for _, t := range terms {
		sum += t
	}

	return sum
}

func weightTotal(weights []float64, n int) (float64, error) {
	if len(weights) != n {
		return 0, fmt.Errorf("%w: %d weights for %d contributions", ErrInvalidWeights, len(weights), n)
	}
	for _, w := range weights {
		if !(w > 0) || math.IsInf(w, 0) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidWeights, w)
		}
	}

	return sortedSum(slices.Clone(weights)), nil
}
