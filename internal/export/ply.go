// Package export writes the displayed solids as PLY files and runs export
// jobs against a blob store.
package export

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/ocs-studio/server/internal/ocs"
)

// ErrNothingToExport is returned when no geometry is displayed.
var ErrNothingToExport = errors.New("nothing to export")

// ContentType is the MIME type stored with PLY blobs.
const ContentType = "application/x-ply"

// WritePLY encodes g as binary little-endian PLY. Normals and colors are
// written only when the geometry carries them.
func WritePLY(w io.Writer, g *ocs.Geometry, comment string) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("invalid geometry: %w", err)
	}
	hasNormals := len(g.Normals) > 0
	hasColors := len(g.Colors) > 0

	bw := bufio.NewWriter(w)
	var h strings.Builder
	h.WriteString("ply\nformat binary_little_endian 1.0\n")
	if comment != "" {
		fmt.Fprintf(&h, "comment %s\n", strings.ReplaceAll(comment, "\n", " "))
	}
	fmt.Fprintf(&h, "element vertex %d\n", g.VertexCount())
	h.WriteString("property float x\nproperty float y\nproperty float z\n")
	if hasNormals {
		h.WriteString("property float nx\nproperty float ny\nproperty float nz\n")
	}
	if hasColors {
		h.WriteString("property uchar red\nproperty uchar green\nproperty uchar blue\n")
	}
	fmt.Fprintf(&h, "element face %d\n", g.TriangleCount())
	h.WriteString("property list uchar uint vertex_indices\nend_header\n")
	if _, err := bw.WriteString(h.String()); err != nil {
		return err
	}

	var buf [4]byte
	putFloat := func(v float32) error {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		_, err := bw.Write(buf[:])
		return err
	}
	for i := 0; i < g.VertexCount(); i++ {
		for _, v := range g.Positions[i*3 : i*3+3] {
			if err := putFloat(v); err != nil {
				return err
			}
		}
		if hasNormals {
			for _, v := range g.Normals[i*3 : i*3+3] {
				if err := putFloat(v); err != nil {
					return err
				}
			}
		}
		if hasColors {
			c := g.Colors[i*3 : i*3+3]
			if _, err := bw.Write([]byte{toByte(c[0]), toByte(c[1]), toByte(c[2])}); err != nil {
				return err
			}
		}
	}
	for i := 0; i+2 < len(g.Indices); i += 3 {
		if err := bw.WriteByte(3); err != nil {
			return err
		}
		for _, idx := range g.Indices[i : i+3] {
			binary.LittleEndian.PutUint32(buf[:], idx)
			if _, err := bw.Write(buf[:]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

func toByte(c float32) byte {
	if c <= 0 {
		return 0
	}
	if c >= 1 {
		return 255
	}
	return byte(math.Round(float64(c) * 255))
}

// FileName returns the PLY file name for entry i: its name, or
// geometry<i> when unnamed. Characters outside [A-Za-z0-9._-] become '_'.
func FileName(name string, i int) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("geometry%d", i)
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	name = strings.TrimLeft(name, ".")
	if name == "" {
		name = fmt.Sprintf("geometry%d", i)
	}
	return name + ".ply"
}

// FileNames names every entry, suffixing duplicates with -<i>.
func FileNames(entries []ocs.Entry, n int) []string {
	out := make([]string, n)
	seen := make(map[string]bool, n)
	for i := range out {
		var name string
		if i < len(entries) {
			name = entries[i].Name
		}
		f := FileName(name, i)
		if seen[f] {
			f = fmt.Sprintf("%s-%d.ply", strings.TrimSuffix(f, ".ply"), i)
		}
		seen[f] = true
		out[i] = f
	}
	return out
}
