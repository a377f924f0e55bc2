package loaders

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

// MeshMagic opens every .agm file. The header is followed by the name and
// six little-endian uint32 stream lengths (index, position, color,
// texcoord, normal, animation) and then the streams themselves.
var MeshMagic = [4]byte{'A', 'G', 'M', '1'}

// maxMeshStream bounds a single stream so a corrupt header cannot force a
// huge allocation.
const maxMeshStream = 1 << 30

type MeshLoader struct{}

func (ml *MeshLoader) Load(path string) (metadata.GeometryData, error) {
	f, err := os.Open(path)
	if err != nil {
		return metadata.GeometryData{}, err
	}
	defer f.Close()

	data, err := DecodeMesh(bufio.NewReader(f))
	if err != nil {
		return metadata.GeometryData{}, fmt.Errorf("mesh %s: %w", path, err)
	}
	return data, nil
}

func DecodeMesh(r io.Reader) (metadata.GeometryData, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return metadata.GeometryData{}, err
	}
	if magic != MeshMagic {
		return metadata.GeometryData{}, fmt.Errorf("bad magic %q", magic[:])
	}

	var nameLen uint32
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return metadata.GeometryData{}, err
	}
	if nameLen > 4096 {
		return metadata.GeometryData{}, fmt.Errorf("name of %d bytes", nameLen)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return metadata.GeometryData{}, err
	}

	var lengths [6]uint32
	if err := binary.Read(r, binary.LittleEndian, &lengths); err != nil {
		return metadata.GeometryData{}, err
	}

	streams := make([][]byte, len(lengths))
	for i, n := range lengths {
		if n > maxMeshStream {
			return metadata.GeometryData{}, fmt.Errorf("stream %d of %d bytes", i, n)
		}
		if n == 0 {
			continue
		}
		streams[i] = make([]byte, n)
		if _, err := io.ReadFull(r, streams[i]); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return metadata.GeometryData{}, err
		}
	}

	data := metadata.GeometryData{
		Name:      string(name),
		Index:     streams[0],
		Position:  streams[1],
		Color:     streams[2],
		TexCoord:  streams[3],
		Normal:    streams[4],
		Animation: streams[5],
	}
	if err := data.Validate(); err != nil {
		return metadata.GeometryData{}, err
	}
	return data, nil
}

// EncodeMesh writes data in the .agm layout DecodeMesh reads.
func EncodeMesh(w io.Writer, data metadata.GeometryData) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(MeshMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(data.Name))); err != nil {
		return err
	}
	if _, err := bw.WriteString(data.Name); err != nil {
		return err
	}
	streams := [][]byte{data.Index, data.Position, data.Color, data.TexCoord, data.Normal, data.Animation}
	var lengths [6]uint32
	for i, s := range streams {
		lengths[i] = uint32(len(s))
	}
	if err := binary.Write(bw, binary.LittleEndian, lengths); err != nil {
		return err
	}
	for _, s := range streams {
		if _, err := bw.Write(s); err != nil {
			return err
		}
	}
	return bw.Flush()
}
