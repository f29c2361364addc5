//go:build !(turbojpeg && arm64)

package turbojpeg

import (
	"image"
	"image/jpeg"
	"io"
)

type Encoder struct {
	w         io.Writer
	quality   int
	width     int
	img       *image.RGBA
	strideRGB int
	yoffset   int
}

func NewEncoder(w io.Writer, quality, width, height int) (*Encoder, error) {
	return &Encoder{
		w:         w,
		quality:   quality,
		width:     width,
		img:       image.NewRGBA(image.Rect(0, 0, width, height)),
		strideRGB: 3 * width,
	}, nil
}

// EncodePixels copies lines rows of packed RGB pixels into the image,
// which is encoded by Flush.
func (e *Encoder) EncodePixels(pix []byte, lines int) {
	for y := 0; y < lines; y++ {
		row := e.img.Pix[(e.yoffset+y)*e.img.Stride:]
		in := pix[y*e.strideRGB : (y+1)*e.strideRGB]
		for x := 0; x < e.width; x++ {
			row[x*4+0] = in[x*3+0]
			row[x*4+1] = in[x*3+1]
			row[x*4+2] = in[x*3+2]
			row[x*4+3] = 0xff
		}
	}
	e.yoffset += lines
}

func (e *Encoder) Flush() error {
	return jpeg.Encode(e.w, e.img, &jpeg.Options{
		Quality: e.quality,
	})
}
