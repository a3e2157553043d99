// Package render rasterizes scene frames to PNG using fogleman/gg.
package render

import (
	"bytes"
	"image/color"
	"image/png"
	"sort"
	"sync"
	"time"

	"cogentcore.org/core/math32"
	"github.com/fogleman/gg"

	"github.com/ocs-studio/server/internal/cache"
	"github.com/ocs-studio/server/internal/metrics"
	"github.com/ocs-studio/server/internal/scene"
	"github.com/ocs-studio/server/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	FrameSize      int
	SliceFrameSize int
	Background     color.RGBA
}

// FrameRenderer draws scene frames with an orthographic camera looking down
// -z. Triangles are painted back to front and flat shaded.
type FrameRenderer struct {
	config     Config
	contexts   map[int]*sync.Pool
	bufferPool sync.Pool
	palette    colormap.CategoricalColormap
	cache      *cache.Manager
	metrics    *metrics.Collectors
}

// NewFrameRenderer creates a new frame renderer. cm and m may be nil.
func NewFrameRenderer(cfg Config, cm *cache.Manager, m *metrics.Collectors) *FrameRenderer {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 512
	}
	if cfg.SliceFrameSize <= 0 {
		cfg.SliceFrameSize = cfg.FrameSize / 2
	}
	if cfg.Background == (color.RGBA{}) {
		cfg.Background = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	}
	r := &FrameRenderer{
		config:   cfg,
		contexts: make(map[int]*sync.Pool),
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
		palette: colormap.Entries,
		cache:   cm,
		metrics: m,
	}
	for _, size := range []int{cfg.FrameSize, cfg.SliceFrameSize} {
		size := size
		r.contexts[size] = &sync.Pool{
			New: func() interface{} {
				return gg.NewContext(size, size)
			},
		}
	}
	return r
}

// Render draws the solids with the shared rotation, the live cutting plane
// and the fetch overlays.
func (r *FrameRenderer) Render(f scene.Frame) ([]byte, error) {
	return r.cached("scene", f.Revision, r.config.FrameSize, func(dc *gg.Context) {
		view := fit(f.Meshes, r.config.FrameSize)
		r.drawMeshes(dc, view, f.Meshes, f.Quat)
		if f.SlicePreview {
			r.drawPlanes(dc, view, f)
		}
		switch {
		case f.Loading():
			drawLoading(dc)
		case f.Failed():
			drawError(dc, f.Fetch.Message, f.Fetch.Detail)
		}
	})
}

// RenderSlices draws the slice meshes without rotation in the smaller slice
// viewport.
func (r *FrameRenderer) RenderSlices(f scene.Frame) ([]byte, error) {
	return r.cached("slice", f.Revision, r.config.SliceFrameSize, func(dc *gg.Context) {
		view := fit(f.Slices, r.config.SliceFrameSize)
		r.drawMeshes(dc, view, f.Slices, math32.Quat{W: 1})
		if f.SlicePending {
			dc.SetRGBA(0, 0, 0, 0.6)
			dc.DrawStringAnchored("Slicing...", 8, 8, 0, 1)
		}
	})
}

func (r *FrameRenderer) cached(kind string, revision uint64, size int, draw func(dc *gg.Context)) ([]byte, error) {
	key := cache.FrameKey(kind, revision, size)
	if r.cache != nil {
		if data, ok := r.cache.GetFrame(key); ok {
			return data, nil
		}
	}

	start := time.Now()
	pool := r.contexts[size]
	dc := pool.Get().(*gg.Context)
	defer pool.Put(dc)

	dc.ClearPath()
	dc.SetColor(r.config.Background)
	dc.Clear()
	draw(dc)

	data, err := r.encodeContext(dc)
	if err != nil {
		return nil, err
	}
	r.metrics.FrameRendered(kind, time.Since(start))
	if r.cache != nil {
		// Frames larger than the cache entry limit are simply not cached.
		_ = r.cache.SetFrame(key, data)
	}
	return data, nil
}

// viewport maps world x,y to pixels.
type viewport struct {
	size float64
	ppu  float64
}

func (v viewport) project(p math32.Vector3) (float64, float64) {
	half := v.size / 2
	return half + float64(p.X)*v.ppu, half - float64(p.Y)*v.ppu
}

// fit chooses a scale that keeps every mesh inside the frame whatever its
// rotation, using each mesh's bounding sphere about its anchor.
func fit(meshes []scene.Mesh, size int) viewport {
	extent := float32(1)
	for _, m := range meshes {
		radius := boundingRadius(m) * m.Scale
		ex := math32.Abs(m.Position.X) + radius
		ey := math32.Abs(m.Position.Y) + radius
		extent = max(extent, ex, ey)
	}
	s := float64(size)
	return viewport{size: s, ppu: s / (2 * float64(extent) * 1.1)}
}

func boundingRadius(m scene.Mesh) float32 {
	if m.Geometry == nil {
		return 0
	}
	var r float32
	for i := 0; i < m.Geometry.VertexCount(); i++ {
		r = max(r, m.Geometry.Vertex(i).Length())
	}
	return r
}

type triangle struct {
	pts   [3]math32.Vector3
	depth float32
	fill  color.RGBA
}

var light = math32.Vec3(0.3, 0.5, 1).Normal()

func (r *FrameRenderer) drawMeshes(dc *gg.Context, view viewport, meshes []scene.Mesh, rot math32.Quat) {
	var tris []triangle
	for _, m := range meshes {
		tris = r.appendTriangles(tris, m, rot)
	}
	sort.Slice(tris, func(i, j int) bool { return tris[i].depth < tris[j].depth })

	for _, t := range tris {
		for k, p := range t.pts {
			x, y := view.project(p)
			if k == 0 {
				dc.MoveTo(x, y)
			} else {
				dc.LineTo(x, y)
			}
		}
		dc.ClosePath()
		dc.SetColor(t.fill)
		dc.Fill()
	}

	for _, m := range meshes {
		if m.Selected {
			r.drawSelection(dc, view, m, rot)
		}
	}
}

func (r *FrameRenderer) appendTriangles(tris []triangle, m scene.Mesh, rot math32.Quat) []triangle {
	g := m.Geometry
	if g == nil {
		return tris
	}
	base := colormap.RGBA(r.palette.AtIndex(m.Index))
	hasColors := len(g.Colors) == len(g.Positions) && len(g.Colors) > 0
	hasNormals := len(g.Normals) == len(g.Positions) && len(g.Normals) > 0

	world := func(i uint32) math32.Vector3 {
		return g.Vertex(int(i)).MulScalar(m.Scale).MulQuat(rot).Add(m.Position)
	}

	for t := 0; t+2 < len(g.Indices); t += 3 {
		idx := [3]uint32{g.Indices[t], g.Indices[t+1], g.Indices[t+2]}
		var tri triangle
		for k, i := range idx {
			tri.pts[k] = world(i)
			tri.depth += tri.pts[k].Z / 3
		}

		var n math32.Vector3
		if hasNormals {
			for _, i := range idx {
				o := int(i) * 3
				n = n.Add(math32.Vec3(g.Normals[o], g.Normals[o+1], g.Normals[o+2]))
			}
			n = n.MulQuat(rot)
		} else {
			n = tri.pts[1].Sub(tri.pts[0]).Cross(tri.pts[2].Sub(tri.pts[0]))
		}
		lambert := float64(math32.Abs(n.Normal().Dot(light)))

		fill := base
		if hasColors {
			var c math32.Vector3
			for _, i := range idx {
				o := int(i) * 3
				c = c.Add(math32.Vec3(g.Colors[o], g.Colors[o+1], g.Colors[o+2]))
			}
			c = c.DivScalar(3)
			fill = colormap.FromUnit(c.X, c.Y, c.Z)
		}
		tri.fill = colormap.Shade(fill, 0.35+0.65*lambert)
		tris = append(tris, tri)
	}
	return tris
}

func (r *FrameRenderer) drawSelection(dc *gg.Context, view viewport, m scene.Mesh, rot math32.Quat) {
	if m.Geometry == nil || m.Geometry.VertexCount() == 0 {
		return
	}
	minX, minY := view.size, view.size
	maxX, maxY := 0.0, 0.0
	for i := 0; i < m.Geometry.VertexCount(); i++ {
		p := m.Geometry.Vertex(i).MulScalar(m.Scale).MulQuat(rot).Add(m.Position)
		x, y := view.project(p)
		minX, maxX = min(minX, x), max(maxX, x)
		minY, maxY = min(minY, y), max(maxY, y)
	}
	dc.SetColor(colormap.RGBA(r.palette.AtIndex(m.Index)))
	dc.SetLineWidth(2)
	dc.DrawRectangle(minX-4, minY-4, maxX-minX+8, maxY-minY+8)
	dc.Stroke()
}

// drawPlanes outlines the cutting plane through every solid.
func (r *FrameRenderer) drawPlanes(dc *gg.Context, view viewport, f scene.Frame) {
	n := f.Plane.Normal()
	if n.Length() == 0 {
		return
	}
	corners := []math32.Vector3{
		math32.Vec3(-1, -1, 0), math32.Vec3(1, -1, 0),
		math32.Vec3(1, 1, 0), math32.Vec3(-1, 1, 0),
	}
	dc.SetRGBA(0.1, 0.1, 0.1, 0.8)
	dc.SetLineWidth(1.5)
	for _, m := range f.Meshes {
		offset := n.MulScalar(f.Plane.D * m.Scale)
		for k, c := range corners {
			p := c.MulScalar(m.Scale).MulQuat(f.PlaneQuat).Add(offset).Add(m.Position)
			x, y := view.project(p)
			if k == 0 {
				dc.MoveTo(x, y)
			} else {
				dc.LineTo(x, y)
			}
		}
		dc.ClosePath()
		dc.Stroke()
	}
}

func drawLoading(dc *gg.Context) {
	w, h := float64(dc.Width()), float64(dc.Height())
	dc.SetRGBA(1, 1, 1, 0.6)
	dc.DrawRectangle(0, 0, w, h)
	dc.Fill()
	dc.SetRGBA(0, 0, 0, 0.9)
	dc.DrawStringAnchored("Loading...", w/2, h/2, 0.5, 0.5)
}

func drawError(dc *gg.Context, message, detail string) {
	w := float64(dc.Width())
	const pad = 8.0
	if len(detail) > 400 {
		detail = detail[:400] + "..."
	}
	fh := dc.FontHeight()
	banner := 2*pad + 3*fh
	if detail != "" {
		lines := dc.WordWrap(detail, w-2*pad)
		banner += float64(len(lines)) * fh * 1.4
	}
	dc.SetRGBA(0.84, 0.15, 0.16, 0.92)
	dc.DrawRectangle(0, 0, w, banner)
	dc.Fill()
	dc.SetRGB(1, 1, 1)
	dc.DrawStringAnchored(message, pad, pad, 0, 1)
	if detail != "" {
		dc.DrawStringWrapped(detail, pad, pad+1.5*fh, 0, 0, w-2*pad, 1.4, gg.AlignLeft)
	}
	dc.DrawStringAnchored("dismiss: POST /api/error/dismiss", pad, banner-pad, 0, 0)
}

func (r *FrameRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
