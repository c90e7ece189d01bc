// Package snapshot is the default still-image encoder, satisfying the
// stream.SnapshotEncoder contract (SPEC_FULL.md 6): encodes a packed RGB8
// frame to JPEG for pull-based preview.
package snapshot

import (
	"fmt"

	"github.com/bmharper/cimg/v2"
)

// JPEGEncoder encodes packed RGB8 frames to JPEG using 4:2:0 chroma
// subsampling, matching the quality/sampling the teacher's camera preview
// snapshot used.
type JPEGEncoder struct{}

func New() *JPEGEncoder {
	return &JPEGEncoder{}
}

// Encode converts rgb (width*height*3 packed RGB8) to a JPEG buffer at the
// given quality (1-100).
func (e *JPEGEncoder) Encode(rgb []byte, width, height, quality int) ([]byte, error) {
	if len(rgb) != width*height*3 {
		return nil, fmt.Errorf("rgb buffer size %d does not match %dx%d*3", len(rgb), width, height)
	}
	img := cimg.NewImage(width, height, cimg.PixelFormatRGB)
	if img.Stride == width*3 {
		copy(img.Pixels, rgb)
	} else {
		for y := 0; y < height; y++ {
			srcOff := y * width * 3
			dstOff := y * img.Stride
			copy(img.Pixels[dstOff:dstOff+width*3], rgb[srcOff:srcOff+width*3])
		}
	}
	return cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling420, quality, cimg.Flags(0)))
}
