package ocs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoTriangleBatch = `[{
	"vertices": [[0,0,0],[1,0,0],[1,1,0],[0,1,1]],
	"normals": [[0,0,1],[0,0,1],[0,0,1],[0,0,1]],
	"colors": [[1,0,0],[0,1,0],[0,0,1],[1,1,1]],
	"indices": [[0,1,2],[0,2,3]],
	"vertexShader": "void main() {}",
	"fragmentShader": "void main() { gl_FragColor = vec4(1.0); }",
	"wavelengths": [400, 500, 600],
	"s_response": [[0.9], [0.1], [0.0]],
	"m_response": [0.1, 0.8, 0.2],
	"l_response": [0.0, 0.3, 0.9],
	"q_response": []
}]`

func TestDecodeOCSBatchFlattensAndCentres(t *testing.T) {
	recs, err := DecodeOCSBatch([]byte(twoTriangleBatch))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	g := recs[0].Geometry
	assert.Equal(t, 4, g.VertexCount())
	assert.Equal(t, 2, g.TriangleCount())
	assert.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, g.Indices)
	assert.Equal(t, []float32{-0.5, -0.5, -0.5}, g.Positions[:3])
	assert.Equal(t, []float32{0.5, 0.5, -0.5}, g.Positions[6:9])
	assert.Len(t, g.Colors, 12)

	c := recs[0].Curves
	assert.Equal(t, []float64{400, 500, 600}, c.Wavelengths)
	assert.Equal(t, []float64{0.9, 0.1, 0.0}, c.Responses[0])
	assert.Empty(t, c.Responses[3])
	assert.Equal(t, "void main() {}", recs[0].Shader.Vertex)
}

func TestDecodeSliceBatchKeepsCoordinates(t *testing.T) {
	body := `[
		{"vertices": [0,0,0, 1,0,0, 0,1,0], "colors": [1,1,1, 1,1,1, 1,1,1], "indices": [0,1,2],
		 "vertexShader": "v", "fragmentShader": "f"},
		{"vertices": [], "colors": [], "indices": [], "vertexShader": "v", "fragmentShader": "f"}
	]`
	recs, err := DecodeSliceBatch([]byte(body))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []float32{0, 0, 0, 1, 0, 0, 0, 1, 0}, recs[0].Geometry.Positions)
	assert.Equal(t, 0, recs[1].Geometry.VertexCount())
}

func TestDecodeOCSBatchRejectsMalformed(t *testing.T) {
	tests := map[string]string{
		"notArray":        `{"vertices": []}`,
		"null":            `null`,
		"missingVertices": `[{"indices": [0,1,2]}]`,
		"indexOutOfRange": `[{"vertices": [0,0,0, 1,0,0, 0,1,0], "indices": [0,1,7]}]`,
		"fractionalIndex": `[{"vertices": [0,0,0, 1,0,0, 0,1,0], "indices": [0,1,1.5]}]`,
		"ragged":          `[{"vertices": [0,0,0, 1,0], "indices": []}]`,
		"stringInArray":   `[{"vertices": [0,"x",0], "indices": []}]`,
		"colorMismatch":   `[{"vertices": [0,0,0], "colors": [1,1], "indices": []}]`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeOCSBatch([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestDecodeSpectralDB(t *testing.T) {
	body := `{"data": [
		{"common_name": "honeybee", "scientific_name": "Apis mellifera", "phylum": "Arthropoda",
		 "class": "Insecta", "order": "Hymenoptera", "template": "govardovskii",
		 "chromophores": "A1", "lambda_max_values": [344, 436, 544, null], "source": "x", "note": ""},
		"garbage",
		{"common_name": "human", "lambda_max_values": [420, 530, 560]}
	]}`
	db, err := DecodeSpectralDB([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, []string{"honeybee", "human"}, db.Names())
	assert.Equal(t, []float64{344, 436, 544}, db["honeybee"].Peaks)
	assert.Equal(t, "Insecta", db["honeybee"].Class)

	_, err = DecodeSpectralDB([]byte(`{"data": {"honeybee": {}}}`))
	assert.Error(t, err)
}

func TestGeometryBounds(t *testing.T) {
	g := Geometry{Positions: []float32{-1, 0, 2, 3, -4, 1}}
	b := g.Bounds()
	assert.Equal(t, float32(-1), b.Min.X)
	assert.Equal(t, float32(-4), b.Min.Y)
	assert.Equal(t, float32(2), b.Max.Z)
}
