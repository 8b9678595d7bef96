package runtimes

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/absmach/flround/client"
	"github.com/absmach/flround/pkg/params"
	"github.com/fxamacker/cbor/v2"
)

var ErrInvalidResult = errors.New("invalid computation result")

// Result is what a training module writes to stdout. Params holds the updated
// parameter set in the session's codec encoding.
type Result struct {
	Params   []byte  `cbor:"params"`
	Loss     float64 `cbor:"loss"`
	Accuracy float64 `cbor:"accuracy"`
}

func epochArgs(epochs uint) []string {
	return []string{"--epochs", strconv.FormatUint(uint64(epochs), 10)}
}

func decodeResult(codec params.Codec, out []byte) (params.ParameterSet, client.Metrics, error) {
	var res Result
	if err := cbor.Unmarshal(out, &res); err != nil {
		return params.ParameterSet{}, client.Metrics{}, errors.Join(ErrInvalidResult, err)
	}
	if len(res.Params) == 0 {
		return params.ParameterSet{}, client.Metrics{}, fmt.Errorf("%w: no parameters", ErrInvalidResult)
	}

	ps, err := codec.Decode(res.Params)
	if err != nil {
		return params.ParameterSet{}, client.Metrics{}, errors.Join(ErrInvalidResult, err)
	}

	return ps, client.Metrics{Loss: res.Loss, Accuracy: res.Accuracy}, nil
}
