package loaders

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "github.com/spaghettifunk/anima-render/engine/math"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

func triangle() metadata.GeometryData {
	return metadata.NewGeometryData("tri",
		[]m.Vec3{m.NewVec3(0, 0, 0), m.NewVec3(1, 0, 0), m.NewVec3(0, 1, 0)},
		nil, nil, nil,
		[]uint32{0, 1, 2})
}

func TestMeshEncodeDecode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeMesh(&buf, triangle()))

	got, err := DecodeMesh(&buf)
	require.NoError(t, err)
	assert.Equal(t, "tri", got.Name)
	assert.Equal(t, uint32(3), got.IndexCount())
	assert.Equal(t, uint32(3), got.VertexCount())
	assert.Equal(t, triangle().Position, got.Position)
	assert.Empty(t, got.Color)
}

func TestMeshDecodeErrors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeMesh(&buf, triangle()))
	full := buf.Bytes()

	tests := []struct {
		name string
		data []byte
	}{
		{"bad magic", append([]byte("XXXX"), full[4:]...)},
		{"truncated", full[:len(full)-5]},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMesh(bytes.NewReader(tt.data))
			assert.Error(t, err)
		})
	}

	_, err := DecodeMesh(bytes.NewReader(full[:len(full)-5]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestMeshDecodeValidates(t *testing.T) {
	bad := triangle()
	bad.Normal = []byte{1, 2, 3}
	var buf bytes.Buffer
	require.NoError(t, EncodeMesh(&buf, bad))

	_, err := DecodeMesh(&buf)
	assert.Error(t, err)
}
