package params_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/absmach/flround/pkg/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	codec, err := params.NewCBORCodec()
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	random := make([]float64, 4*3*2)
	for i := range random {
		random[i] = rng.NormFloat64()
	}

	cases := []struct {
		desc string
		ps   params.ParameterSet
	}{
		{
			desc: "empty set",
			ps:   params.MustNew(),
		},
		{
			desc: "single scalar layer",
			ps:   params.MustNew(params.Entry{Name: "layer1", Layer: params.Layer{Weight: params.Scalar(2)}}),
		},
		{
			desc: "special values",
			ps: params.MustNew(params.Entry{
				Name: "specials",
				Layer: params.Layer{
					Weight: params.Tensor{Shape: []int{6}, Data: []float64{
						math.NaN(), math.Inf(1), math.Inf(-1), math.Copysign(0, -1), math.SmallestNonzeroFloat64, math.MaxFloat64,
					}},
					Bias: params.Scalar(math.Float64frombits(0x7ff8000000000abc)),
				},
			}),
		},
		{
			desc: "multi layer keeps order",
			ps: params.MustNew(
				params.Entry{Name: "linear", Layer: params.Layer{
					Weight: params.Tensor{Shape: []int{4, 3, 2}, Data: random},
					Bias:   params.Tensor{Shape: []int{2}, Data: []float64{0.1, -0.2}},
				}},
				params.Entry{Name: "conv1", Layer: params.Layer{Weight: params.Scalar(1)}},
			),
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()

			data, err := codec.Encode(tc.ps)
			require.NoError(t, err)

			got, err := codec.Decode(data)
			require.NoError(t, err)
			assert.True(t, tc.ps.Equal(got), "decoded set differs from the original")
			assert.Equal(t, tc.ps.Names(), got.Names())
		})
	}
}

func TestCodecDecodeErrors(t *testing.T) {
	t.Parallel()

	codec, err := params.NewCBORCodec()
	require.NoError(t, err)

	cases := []struct {
		desc string
		data []byte
	}{
		{desc: "empty payload", data: nil},
		{desc: "not cbor", data: []byte("TERMINATE")},
		{desc: "truncated", data: []byte{0xa1, 0x01}},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()

			_, err := codec.Decode(tc.data)
			assert.ErrorIs(t, err, params.ErrDecode)
		})
	}
}
