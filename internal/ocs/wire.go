package ocs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// CenterOffset recentres primary solids, which the backend emits inside the
// unit cube.
const CenterOffset = -0.5

// flatFloats decodes a numeric JSON array of any nesting depth into a flat
// slice, the way the backend's [[x,y,z],...] vertex lists are consumed.
type flatFloats []float32

func (f *flatFloats) UnmarshalJSON(b []byte) error {
	out := make([]float32, 0)
	err := flattenJSON(b, func(v float64) error {
		out = append(out, float32(v))
		return nil
	})
	if err != nil {
		return err
	}
	*f = out
	return nil
}

type flatFloat64s []float64

func (f *flatFloat64s) UnmarshalJSON(b []byte) error {
	out := make([]float64, 0)
	err := flattenJSON(b, func(v float64) error {
		out = append(out, v)
		return nil
	})
	if err != nil {
		return err
	}
	*f = out
	return nil
}

type flatIndices []uint32

func (f *flatIndices) UnmarshalJSON(b []byte) error {
	out := make([]uint32, 0)
	err := flattenJSON(b, func(v float64) error {
		if v < 0 || v != math.Trunc(v) || v > math.MaxUint32 {
			return fmt.Errorf("invalid index %v", v)
		}
		out = append(out, uint32(v))
		return nil
	})
	if err != nil {
		return err
	}
	*f = out
	return nil
}

func flattenJSON(b []byte, emit func(float64) error) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch v := tok.(type) {
		case json.Delim:
			if v != '[' && v != ']' {
				return fmt.Errorf("unexpected %q in numeric array", rune(v))
			}
		case float64:
			if err := emit(v); err != nil {
				return err
			}
		case nil:
			// null padding is skipped
		default:
			return fmt.Errorf("unexpected %T in numeric array", tok)
		}
	}
}

type ocsWire struct {
	Vertices       flatFloats   `json:"vertices"`
	Normals        flatFloats   `json:"normals"`
	Colors         flatFloats   `json:"colors"`
	Indices        flatIndices  `json:"indices"`
	VertexShader   string       `json:"vertexShader"`
	FragmentShader string       `json:"fragmentShader"`
	Wavelengths    flatFloat64s `json:"wavelengths"`
	SResponse      flatFloat64s `json:"s_response"`
	MResponse      flatFloat64s `json:"m_response"`
	LResponse      flatFloat64s `json:"l_response"`
	QResponse      flatFloat64s `json:"q_response"`
}

func (w ocsWire) record() (RenderRecord, error) {
	if w.Vertices == nil {
		return RenderRecord{}, errors.New("missing vertices")
	}
	if w.Indices == nil {
		return RenderRecord{}, errors.New("missing indices")
	}
	rec := RenderRecord{
		Geometry: Geometry{
			Positions: w.Vertices,
			Normals:   w.Normals,
			Colors:    w.Colors,
			Indices:   w.Indices,
		},
		Shader: Shader{Vertex: w.VertexShader, Fragment: w.FragmentShader},
		Curves: Curves{
			Wavelengths: w.Wavelengths,
			Responses:   [MaxPeaks][]float64{w.SResponse, w.MResponse, w.LResponse, w.QResponse},
		},
	}
	if err := rec.Geometry.Validate(); err != nil {
		return RenderRecord{}, err
	}
	return rec, nil
}

// DecodeOCSBatch decodes a /get_ocs_data response body. Geometry is
// recentred on the origin.
func DecodeOCSBatch(body []byte) ([]RenderRecord, error) {
	var wire []ocsWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode ocs batch: %w", err)
	}
	if wire == nil {
		return nil, errors.New("decode ocs batch: expected a JSON array")
	}
	out := make([]RenderRecord, len(wire))
	for i, w := range wire {
		rec, err := w.record()
		if err != nil {
			return nil, fmt.Errorf("ocs record %d: %w", i, err)
		}
		rec.Geometry.Translate(CenterOffset, CenterOffset, CenterOffset)
		out[i] = rec
	}
	return out, nil
}

// DecodeSliceBatch decodes a /compute_ocs_slice response body.
func DecodeSliceBatch(body []byte) ([]RenderRecord, error) {
	var wire []ocsWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode slice batch: %w", err)
	}
	if wire == nil {
		return nil, errors.New("decode slice batch: expected a JSON array")
	}
	out := make([]RenderRecord, len(wire))
	for i, w := range wire {
		rec, err := w.record()
		if err != nil {
			return nil, fmt.Errorf("slice record %d: %w", i, err)
		}
		out[i] = rec
	}
	return out, nil
}
