// Package decode turns broker payloads into fader batches.
package decode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/maxux/hombedded-faders/internal/types"
)

// Format names a payload encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

var (
	ErrNotArray      = errors.New("payload is not an array")
	ErrTrailingData  = errors.New("trailing data after payload")
	ErrUnknownFormat = errors.New("unknown payload format")
)

// Decoder parses one payload into the samples of a batch.
type Decoder interface {
	Decode(payload []byte) ([]types.Sample, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(payload []byte) ([]types.Sample, error)

func (f DecoderFunc) Decode(payload []byte) ([]types.Sample, error) {
	return f(payload)
}

// For returns the decoder for a configured format.
func For(format Format) (Decoder, error) {
	switch format {
	case FormatJSON, "":
		return DecoderFunc(JSON), nil
	case FormatMsgpack:
		return DecoderFunc(Msgpack), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// JSON decodes a JSON array. Only JSON integers become samples; floats,
// strings, nulls and nested values are kept as absent entries so indices
// stay aligned. Anything but whitespace after the array is an error.
func JSON(payload []byte) ([]types.Sample, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse json: %w", ErrTrailingData)
	}

	items, ok := root.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotArray, root)
	}

	samples := make([]types.Sample, len(items))
	for i, item := range items {
		num, ok := item.(json.Number)
		if !ok {
			continue
		}
		// "12" is an integer, "12.0" and "1e3" are reals
		if bytes.ContainsAny([]byte(num), ".eE") {
			continue
		}
		v, err := num.Int64()
		if err != nil {
			// out of int64 range
			v = math.MaxInt64
			if num[0] == '-' {
				v = math.MinInt64
			}
		}
		samples[i] = sample(v)
	}

	return samples, nil
}

// Msgpack decodes a msgpack array. Any msgpack integer becomes a sample.
func Msgpack(payload []byte) ([]types.Sample, error) {
	var root any
	if err := msgpack.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("parse msgpack: %w", err)
	}

	items, ok := root.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotArray, root)
	}

	samples := make([]types.Sample, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case int8:
			samples[i] = sample(int64(v))
		case int16:
			samples[i] = sample(int64(v))
		case int32:
			samples[i] = sample(int64(v))
		case int64:
			samples[i] = sample(v)
		case uint8:
			samples[i] = sample(int64(v))
		case uint16:
			samples[i] = sample(int64(v))
		case uint32:
			samples[i] = sample(int64(v))
		case uint64:
			samples[i] = sample(int64(min(v, math.MaxInt64)))
		}
	}

	return samples, nil
}

// sample saturates v into an int so huge readings still clamp to the top of
// the curve instead of wrapping.
func sample(v int64) types.Sample {
	if v > math.MaxInt32 {
		v = math.MaxInt32
	}
	if v < math.MinInt32 {
		v = math.MinInt32
	}
	return types.Sample{Value: int(v), OK: true}
}
