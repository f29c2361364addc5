package turbojpeg

import (
	"fmt"
	"io"
)

// rowsPerChunk matches the MCU height of 4:2:0 subsampled JPEG.
const rowsPerChunk = 16

// Encode JPEG-encodes height rows of width pixels. channels is 3 for
// packed RGB and 1 for gray, which is expanded to RGB in chunks.
func Encode(w io.Writer, quality int, pix []byte, width, height, channels int) error {
	if channels != 1 && channels != 3 {
		return fmt.Errorf("turbojpeg: unsupported number of channels: %d", channels)
	}
	if got, want := len(pix), width*height*channels; got < want {
		return fmt.Errorf("turbojpeg: got %d bytes, want %d", got, want)
	}
	enc, err := NewEncoder(w, quality, width, height)
	if err != nil {
		return err
	}
	if channels == 3 {
		enc.EncodePixels(pix, height)
		return enc.Flush()
	}

	rgb := make([]byte, rowsPerChunk*width*3)
	for y := 0; y < height; y += rowsPerChunk {
		lines := rowsPerChunk
		if y+lines > height {
			lines = height - y
		}
		gray := pix[y*width : (y+lines)*width]
		for i, v := range gray {
			rgb[i*3+0] = v
			rgb[i*3+1] = v
			rgb[i*3+2] = v
		}
		enc.EncodePixels(rgb[:lines*width*3], lines)
	}
	return enc.Flush()
}
