package vision

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"

	"golang.org/x/image/draw"

	"github.com/cascademl/cascade/tensor"
)

// WriteGrid tiles a batch of decoded samples into a single PNG preview.
// The batch is [B, C, H, W] with C of 1 or 3 and values in [0, 1]; values
// outside the range are clipped. Each tile is scaled to tileSize pixels on
// its longer side before placement.
func WriteGrid(w io.Writer, batch *tensor.Tensor, columns, tileSize int) error {
	if len(batch.Shape) != 4 {
		return fmt.Errorf("expected a [B,C,H,W] tensor, got shape %v", batch.Shape)
	}
	b, c, h, wd := batch.Shape[0], batch.Shape[1], batch.Shape[2], batch.Shape[3]
	if c != 1 && c != 3 {
		return fmt.Errorf("expected 1 or 3 channels, got %d", c)
	}
	if columns <= 0 {
		columns = 4
	}
	if columns > b {
		columns = b
	}
	if tileSize <= 0 {
		tileSize = h
	}

	data, err := batch.GetFloat32Data()
	if err != nil {
		return err
	}

	rows := (b + columns - 1) / columns
	scale := float64(tileSize) / float64(max(h, wd))
	tileH := int(float64(h) * scale)
	tileW := int(float64(wd) * scale)

	grid := image.NewRGBA(image.Rect(0, 0, columns*tileW, rows*tileH))

	plane := h * wd
	for i := 0; i < b; i++ {
		tile := image.NewRGBA(image.Rect(0, 0, wd, h))
		for y := 0; y < h; y++ {
			for x := 0; x < wd; x++ {
				base := i*c*plane + y*wd + x
				var r, g, bl uint8
				if c == 1 {
					v := toByte(data[base])
					r, g, bl = v, v, v
				} else {
					r = toByte(data[base])
					g = toByte(data[base+plane])
					bl = toByte(data[base+2*plane])
				}
				tile.SetRGBA(x, y, color.RGBA{R: r, G: g, B: bl, A: 255})
			}
		}

		col := i % columns
		row := i / columns
		dst := image.Rect(col*tileW, row*tileH, (col+1)*tileW, (row+1)*tileH)
		draw.ApproxBiLinear.Scale(grid, dst, tile, tile.Bounds(), draw.Src, nil)
	}

	return png.Encode(w, grid)
}

// SaveGrid writes the preview to a file.
func SaveGrid(path string, batch *tensor.Tensor, columns, tileSize int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create preview file: %v", err)
	}
	defer file.Close()
	if err := WriteGrid(file, batch, columns, tileSize); err != nil {
		return err
	}
	return file.Close()
}

func toByte(v float32) uint8 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return uint8(v*255 + 0.5)
}
