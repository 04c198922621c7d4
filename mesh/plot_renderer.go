package mesh

import (
	"fmt"
	"image/color"
	"io"

	"github.com/paulmach/orb"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// rasterGrid adapts a Raster to plotter.GridXYZ. Columns are x cells and
// rows are y cells; coordinates are cell centres.
type rasterGrid struct {
	r *Raster
}

func (g rasterGrid) Dims() (c, r int) { return g.r.Nx, g.r.Ny }

func (g rasterGrid) Z(c, r int) float64 { return g.r.Mean[g.r.Index(c, r)] }

func (g rasterGrid) X(c int) float64 {
	x, _ := g.r.CellCenter(c, 0)
	return x
}

func (g rasterGrid) Y(r int) float64 {
	_, y := g.r.CellCenter(0, r)
	return y
}

// PlotRenderer draws the raster as a heatmap with axes, a title, an optional
// track overlay and a colour bar.
type PlotRenderer struct {
	Config RenderConfig
	Width  vg.Length
	Height vg.Length
	DPI    int
}

// NewPlotRenderer creates a plot renderer sized for a landscape figure.
func NewPlotRenderer(cfg RenderConfig) *PlotRenderer {
	return &PlotRenderer{Config: cfg, Width: 10 * vg.Inch, Height: 8 * vg.Inch, DPI: 96}
}

// Render writes the plot as PNG.
func (p *PlotRenderer) Render(w io.Writer, r *Raster, track orb.LineString) error {
	if r == nil || r.Nx == 0 || r.Ny == 0 {
		return ErrEmptyInput
	}
	scale := NewColorScale(r, p.Config)

	mapPlot, err := p.mapPlot(r, track, scale)
	if err != nil {
		return err
	}
	bar := plot.New()
	bar.Add(&plotter.ColorBar{ColorMap: scale.ColorMap(), Vertical: true, Colors: 256})
	bar.HideX()
	bar.Y.Label.Text = "Mean intensity"
	bar.Y.Padding = 0

	img := vgimg.NewWith(vgimg.UseWH(p.Width, p.Height), vgimg.UseDPI(p.DPI))
	dc := draw.New(img)
	dc.SetColor(color.White)
	dc.Fill(dc.Rectangle.Path())

	barWidth := p.Width / 8
	mapPlot.Draw(draw.Crop(dc, 0, -barWidth, 0, 0))
	bar.Draw(draw.Crop(dc, p.Width-barWidth, 0, vg.Points(40), -vg.Points(30)))

	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(w); err != nil {
		return fmt.Errorf("failed to encode plot: %w", err)
	}
	return nil
}

func (p *PlotRenderer) mapPlot(r *Raster, track orb.LineString, scale ColorScale) (*plot.Plot, error) {
	pl := plot.New()
	pl.Title.Text = p.Config.Title
	pl.X.Label.Text = "Easting (m)"
	pl.Y.Label.Text = "Northing (m)"

	pal := scale.ColorMap().Palette(256)
	colors := pal.Colors()
	h := plotter.NewHeatMap(rasterGrid{r: r}, pal)
	h.Min, h.Max = scale.Min, scale.Max
	h.NaN = NoDataColor
	h.Underflow = colors[0]
	h.Overflow = colors[len(colors)-1]
	h.Rasterized = true
	pl.Add(h)

	if p.Config.Track && len(track) > 1 {
		pts := make(plotter.XYs, len(track))
		for i, pt := range track {
			pts[i].X, pts[i].Y = pt[0], pt[1]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("failed to create track line: %w", err)
		}
		line.Color = color.RGBA{R: 0, G: 160, B: 255, A: 255}
		line.Width = vg.Points(1)
		pl.Add(line)
		pl.Legend.Add("track", line)
		pl.Legend.Top = true
	}

	ext := r.Extent()
	pl.X.Min, pl.X.Max = ext.Min[0], ext.Max[0]
	pl.Y.Min, pl.Y.Max = ext.Min[1], ext.Max[1]
	return pl, nil
}
