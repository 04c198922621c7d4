package mesh

import (
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// VectorRenderer renders the raster as vector graphics: one rectangle per
// run of equally coloured cells, grid lines and the track.
type VectorRenderer struct {
	Config      RenderConfig
	Size        float64           // Longest map side in millimeters
	Padding     float64           // Padding in millimeters
	Resolution  canvas.Resolution // Resolution for PNG output (default: 300 DPI)
	GridSpacing float64           // Grid line spacing in meters; 0 disables
}

// NewVectorRenderer creates a vector renderer with default settings
func NewVectorRenderer(cfg RenderConfig) *VectorRenderer {
	return &VectorRenderer{
		Config:      cfg,
		Size:        300.0,
		Padding:     10.0,
		Resolution:  canvas.DPI(300),
		GridSpacing: cfg.GridSpacing,
	}
}

// Render writes the map as SVG.
func (v *VectorRenderer) Render(w io.Writer, r *Raster, track orb.LineString) error {
	return v.RenderToSVG(w, r, track)
}

// mmPerMeter returns the drawing scale.
func (v *VectorRenderer) mmPerMeter(r *Raster) float64 {
	ext := r.Extent()
	longest := math.Max(ext.Max[0]-ext.Min[0], ext.Max[1]-ext.Min[1])
	if longest <= 0 {
		return 1
	}
	return v.Size / longest
}

func (v *VectorRenderer) pageSize(r *Raster) (width, height float64) {
	ext := r.Extent()
	s := v.mmPerMeter(r)
	return (ext.Max[0]-ext.Min[0])*s + 2*v.Padding, (ext.Max[1]-ext.Min[1])*s + 2*v.Padding
}

// RenderToSVG writes the map as an SVG to the provided writer
func (v *VectorRenderer) RenderToSVG(w io.Writer, r *Raster, track orb.LineString) error {
	if r == nil || r.Nx == 0 || r.Ny == 0 {
		return ErrEmptyInput
	}
	width, height := v.pageSize(r)

	svgRenderer := svg.New(w, width, height, nil)
	v.renderToCanvas(svgRenderer, r, track, width, height)

	// Close writes the closing tags
	return svgRenderer.Close()
}

// RenderToPNG writes the map as a PNG to the provided writer
func (v *VectorRenderer) RenderToPNG(w io.Writer, r *Raster, track orb.LineString) error {
	if r == nil || r.Nx == 0 || r.Ny == 0 {
		return ErrEmptyInput
	}
	width, height := v.pageSize(r)

	rast := rasterizer.New(width, height, v.Resolution, canvas.DefaultColorSpace)
	v.renderToCanvas(rast, r, track, width, height)

	// Rasterizer implements draw.Image
	return png.Encode(w, rast)
}

// renderToCanvas draws the map (shared logic for SVG and PNG)
func (v *VectorRenderer) renderToCanvas(renderer canvasRenderer, r *Raster, track orb.LineString, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	ext := r.Extent()
	s := v.mmPerMeter(r)
	toCanvas := func(x, y float64) (float64, float64) {
		return (x-ext.Min[0])*s + v.Padding, (y-ext.Min[1])*s + v.Padding
	}

	// Cells, merging horizontal runs of the same colour
	scale := NewColorScale(r, v.Config)
	cellSize := r.Resolution * s
	for iy := 0; iy < r.Ny; iy++ {
		for ix := 0; ix < r.Nx; {
			c := scale.Color(r.Mean[r.Index(ix, iy)])
			run := 1
			for ix+run < r.Nx && scale.Color(r.Mean[r.Index(ix+run, iy)]) == c {
				run++
			}
			if c != NoDataColor {
				cellStyle := canvas.DefaultStyle
				cellStyle.Fill = canvas.Paint{Color: c}
				cellStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
				b := r.CellBound(ix, iy)
				cx, cy := toCanvas(b.Min[0], b.Min[1])
				renderer.RenderPath(canvas.Rectangle(float64(run)*cellSize, cellSize).Translate(cx, cy), cellStyle, canvas.Identity)
			}
			ix += run
		}
	}

	// Coverage outline
	outlineStyle := canvas.DefaultStyle
	outlineStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	outlineStyle.Stroke = canvas.Paint{Color: canvas.Black}
	outlineStyle.StrokeWidth = 0.3
	for _, poly := range VectorizeCoverage(r) {
		outline := &canvas.Path{}
		for _, ring := range poly {
			for i, p := range ring {
				x, y := toCanvas(p[0], p[1])
				if i == 0 {
					outline.MoveTo(x, y)
				} else {
					outline.LineTo(x, y)
				}
			}
			outline.Close()
		}
		renderer.RenderPath(outline, outlineStyle, canvas.Identity)
	}

	if v.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 0.2
		gridStyle.Dashes = []float64{1.0, 1.0}

		// Vertical grid lines
		for x := math.Ceil(ext.Min[0]/v.GridSpacing) * v.GridSpacing; x <= ext.Max[0]; x += v.GridSpacing {
			gridPath := &canvas.Path{}
			gridPath.MoveTo(toCanvas(x, ext.Min[1]))
			gridPath.LineTo(toCanvas(x, ext.Max[1]))
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}

		// Horizontal grid lines
		for y := math.Ceil(ext.Min[1]/v.GridSpacing) * v.GridSpacing; y <= ext.Max[1]; y += v.GridSpacing {
			gridPath := &canvas.Path{}
			gridPath.MoveTo(toCanvas(ext.Min[0], y))
			gridPath.LineTo(toCanvas(ext.Max[0], y))
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
	}

	if v.Config.Track && len(track) > 1 {
		trackStyle := canvas.DefaultStyle
		trackStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		trackStyle.Stroke = canvas.Paint{Color: trackColor}
		trackStyle.StrokeWidth = 0.5

		trackPath := &canvas.Path{}
		for i, p := range track {
			x, y := toCanvas(p[0], p[1])
			if i == 0 {
				trackPath.MoveTo(x, y)
			} else {
				trackPath.LineTo(x, y)
			}
		}
		renderer.RenderPath(trackPath, trackStyle, canvas.Identity)

		startStyle := canvas.DefaultStyle
		startStyle.Fill = canvas.Paint{Color: trackColor}
		startStyle.Stroke = canvas.Paint{Color: canvas.Black}
		startStyle.StrokeWidth = 0.2
		sx, sy := toCanvas(track[0][0], track[0][1])
		renderer.RenderPath(canvas.Circle(1.0).Translate(sx, sy), startStyle, canvas.Identity)
	}
}
