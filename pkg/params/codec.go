package params

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

var (
	ErrDecode = errors.New("failed to decode parameter set")
	ErrEncode = errors.New("failed to encode parameter set")
)

// Codec converts parameter sets to and from bytes. Implementations must
// round-trip exactly.
type Codec interface {
	Encode(ps ParameterSet) ([]byte, error)
	Decode(data []byte) (ParameterSet, error)
}

type wireTensor struct {
	Shape []int  `cbor:"1,keyasint,omitempty"`
	Data  []byte `cbor:"2,keyasint"`
}

type wireLayer struct {
	Name   string     `cbor:"1,keyasint"`
	Weight wireTensor `cbor:"2,keyasint"`
	Bias   wireTensor `cbor:"3,keyasint"`
}

type wireSet struct {
	Layers []wireLayer `cbor:"1,keyasint"`
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec returns a codec writing a CBOR array of layers. Tensor values
// travel as little-endian IEEE-754 byte strings so every bit is preserved.
func NewCBORCodec() (Codec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 1 << 20,
	}.DecMode()
	if err != nil {
		return nil, err
	}

	return &cborCodec{enc: enc, dec: dec}, nil
}

func (c *cborCodec) Encode(ps ParameterSet) ([]byte, error) {
	ws := wireSet{Layers: make([]wireLayer, 0, ps.Len())}
	for _, name := range ps.names {
		l := ps.view(name)
		ws.Layers = append(ws.Layers, wireLayer{
			Name:   name,
			Weight: toWire(l.Weight),
			Bias:   toWire(l.Bias),
		})
	}

	data, err := c.enc.Marshal(ws)
	if err != nil {
		return nil, errors.Join(ErrEncode, err)
	}

	return data, nil
}

func (c *cborCodec) Decode(data []byte) (ParameterSet, error) {
	if len(data) == 0 {
		return ParameterSet{}, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	var ws wireSet
	if err := c.dec.Unmarshal(data, &ws); err != nil {
		return ParameterSet{}, errors.Join(ErrDecode, err)
	}

	entries := make([]Entry, len(ws.Layers))
	for i, wl := range ws.Layers {
		w, err := fromWire(wl.Weight)
		if err != nil {
			return ParameterSet{}, fmt.Errorf("%w: layer %s weight: %w", ErrDecode, wl.Name, err)
		}
		b, err := fromWire(wl.Bias)
		if err != nil {
			return ParameterSet{}, fmt.Errorf("%w: layer %s bias: %w", ErrDecode, wl.Name, err)
		}
		entries[i] = Entry{Name: wl.Name, Layer: Layer{Weight: w, Bias: b}}
	}

	ps, err := New(entries...)
	if err != nil {
		return ParameterSet{}, errors.Join(ErrDecode, err)
	}

	return ps, nil
}

func toWire(t Tensor) wireTensor {
	buf := make([]byte, 8*len(t.Data))
	for i, v := range t.Data {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}

	return wireTensor{Shape: t.Shape, Data: buf}
}

func fromWire(w wireTensor) (Tensor, error) {
	if len(w.Data)%8 != 0 {
		return Tensor{}, fmt.Errorf("data length %d is not a multiple of 8", len(w.Data))
	}
	data := make([]float64, len(w.Data)/8)
	for i := range data {
		data[i] = math.Float64frombits(binary.LittleEndian.Uint64(w.Data[8*i:]))
	}

	return Tensor{Shape: w.Shape, Data: data}, nil
}
