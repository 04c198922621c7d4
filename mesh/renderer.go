package mesh

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"

	"github.com/paulmach/orb"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	maxImageSide = 8000 // longest map side in pixels before downscaling
	legendWidth  = 80
	titleHeight  = 24
	imagePadding = 10
)

var (
	backgroundColor = color.RGBA{240, 240, 240, 255}
	trackColor      = color.RGBA{0, 160, 255, 255}
	textColor       = color.RGBA{0, 0, 0, 255}
)

// RasterRenderer paints each cell as a block of pixels, north up, with a
// title, a colour bar legend and an optional track overlay.
type RasterRenderer struct {
	Config        RenderConfig
	PixelsPerCell int
}

// NewRasterRenderer creates an image renderer.
func NewRasterRenderer(cfg RenderConfig) *RasterRenderer {
	ppc := cfg.PixelsPerCell
	if ppc <= 0 {
		ppc = 2
	}
	return &RasterRenderer{Config: cfg, PixelsPerCell: ppc}
}

// mapSize returns the pixel size of the map area, shrinking the cell size
// when the grid would exceed maxImageSide.
func (rr *RasterRenderer) mapSize(r *Raster) (w, h int, scale float64) {
	scale = float64(rr.PixelsPerCell)
	if longest := float64(max(r.Nx, r.Ny)) * scale; longest > maxImageSide {
		scale *= maxImageSide / longest
	}
	w = max(1, int(math.Round(float64(r.Nx)*scale)))
	h = max(1, int(math.Round(float64(r.Ny)*scale)))
	return w, h, scale
}

// WorldToImage returns the transform from world metres to image pixels for
// a map area of the given scale (pixels per cell) placed at (ox, oy).
func WorldToImage(r *Raster, scale float64, ox, oy int) AffineMatrix {
	top := r.OriginY + float64(r.Ny)*r.Resolution
	s := scale / r.Resolution
	return MultiplyMatrices(
		Translation(float64(ox), float64(oy)),
		MultiplyMatrices(Scale(s, -s), Translation(-r.OriginX, -top)),
	)
}

// Image renders the raster and track into an RGBA image.
func (rr *RasterRenderer) Image(r *Raster, track orb.LineString) (*image.RGBA, error) {
	if r == nil || r.Nx == 0 || r.Ny == 0 {
		return nil, ErrEmptyInput
	}
	scale := NewColorScale(r, rr.Config)
	mw, mh, s := rr.mapSize(r)

	width := imagePadding + mw + legendWidth
	height := titleHeight + mh + imagePadding
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)

	// One pixel per cell, row 0 at the top, then scaled into place.
	cells := image.NewRGBA(image.Rect(0, 0, r.Nx, r.Ny))
	for iy := 0; iy < r.Ny; iy++ {
		for ix := 0; ix < r.Nx; ix++ {
			cells.SetRGBA(ix, r.Ny-1-iy, scale.Color(r.Mean[r.Index(ix, iy)]))
		}
	}
	mapRect := image.Rect(imagePadding, titleHeight, imagePadding+mw, titleHeight+mh)
	draw.NearestNeighbor.Scale(img, mapRect, cells, cells.Bounds(), draw.Src, nil)

	if rr.Config.Track && len(track) > 0 {
		m := WorldToImage(r, s, imagePadding, titleHeight)
		drawTrack(img, track, m)
	}

	if rr.Config.Title != "" {
		drawText(img, imagePadding, titleHeight-8, rr.Config.Title, textColor)
	}
	drawColorBar(img, image.Rect(imagePadding+mw+12, titleHeight, imagePadding+mw+28, titleHeight+mh), scale)
	return img, nil
}

// Render writes the image as PNG.
func (rr *RasterRenderer) Render(w io.Writer, r *Raster, track orb.LineString) error {
	img, err := rr.Image(r, track)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// SavePNG renders straight to a file. Prefer SaveMap for user-facing output.
func (rr *RasterRenderer) SavePNG(path string, r *Raster, track orb.LineString) error {
	img, err := rr.Image(r, track)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return png.Encode(f, img)
}

// drawTrack draws the track as a polyline with a start and end marker.
func drawTrack(img *image.RGBA, track orb.LineString, m AffineMatrix) {
	toImage := func(p orb.Point) (int, int) {
		ip := TransformPoint(Point{X: p[0], Y: p[1]}, m)
		return int(math.Round(ip.X)), int(math.Round(ip.Y))
	}

	for i := 1; i < len(track); i++ {
		x0, y0 := toImage(track[i-1])
		x1, y1 := toImage(track[i])
		drawLine(img, x0, y0, x1, y1, trackColor)
	}
	sx, sy := toImage(track[0])
	drawCircle(img, sx, sy, 3, trackColor)
	ex, ey := toImage(track[len(track)-1])
	drawSquare(img, ex, ey, 6, trackColor)
}

// drawLine draws a one pixel line (Bresenham)
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	b := img.Bounds()
	for {
		if image.Pt(x0, y0).In(b) {
			img.SetRGBA(x0, y0, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				x, y := cx+dx, cy+dy
				if image.Pt(x, y).In(img.Bounds()) {
					img.SetRGBA(x, y, c)
				}
			}
		}
	}
}

// drawSquare draws a filled square
func drawSquare(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			x, y := cx+dx, cy+dy
			if image.Pt(x, y).In(img.Bounds()) {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

// drawColorBar fills rect with the colour scale, maximum at the top, and
// labels both ends.
func drawColorBar(img *image.RGBA, rect image.Rectangle, scale ColorScale) {
	h := rect.Dy()
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		t := 1.0
		if h > 1 {
			t = 1 - float64(y-rect.Min.Y)/float64(h-1)
		}
		c := scale.Color(scale.Min + t*(scale.Max-scale.Min))
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	drawText(img, rect.Max.X+4, rect.Min.Y+10, formatLabel(scale.Max), textColor)
	drawText(img, rect.Max.X+4, rect.Max.Y, formatLabel(scale.Min), textColor)
}

func formatLabel(v float64) string {
	if math.Abs(v) >= 1000 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.3g", v)
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
