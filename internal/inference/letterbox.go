package inference

import "github.com/chewxy/math32"

// LetterboxParams records how a source frame was resized and padded to fit
// the model's fixed input rectangle, so detections can be mapped back.
type LetterboxParams struct {
	Scale float32
	PadX  float32
	PadY  float32
	SrcW  int
	SrcH  int
	DstW  int
	DstH  int
}

const letterboxFill = 114

// Letterbox resizes srcRGB (srcW x srcH x 3) into a dstW x dstH buffer,
// preserving aspect ratio and padding with gray on the shorter axis.
func Letterbox(srcRGB []byte, srcW, srcH, dstW, dstH int) ([]byte, LetterboxParams) {
	scale := math32.Min(float32(dstW)/float32(srcW), float32(dstH)/float32(srcH))
	nw := int(math32.Round(float32(srcW) * scale))
	nh := int(math32.Round(float32(srcH) * scale))
	padX := float32(dstW-nw) / 2
	padY := float32(dstH-nh) / 2

	dst := make([]byte, dstW*dstH*3)
	for i := range dst {
		dst[i] = letterboxFill
	}

	ox := int(padX)
	oy := int(padY)
	for y := 0; y < nh; y++ {
		sy := y * srcH / nh
		if sy >= srcH {
			sy = srcH - 1
		}
		dy := y + oy
		if dy < 0 || dy >= dstH {
			continue
		}
		for x := 0; x < nw; x++ {
			sx := x * srcW / nw
			if sx >= srcW {
				sx = srcW - 1
			}
			dx := x + ox
			if dx < 0 || dx >= dstW {
				continue
			}
			srcOff := (sy*srcW + sx) * 3
			dstOff := (dy*dstW + dx) * 3
			dst[dstOff+0] = srcRGB[srcOff+0]
			dst[dstOff+1] = srcRGB[srcOff+1]
			dst[dstOff+2] = srcRGB[srcOff+2]
		}
	}

	return dst, LetterboxParams{Scale: scale, PadX: padX, PadY: padY, SrcW: srcW, SrcH: srcH, DstW: dstW, DstH: dstH}
}

// ToOriginal maps a point in model-input pixel space back to the original
// frame's pixel space.
func (lb LetterboxParams) ToOriginal(x, y float32) (float32, float32) {
	ox := (x - lb.PadX) / lb.Scale
	oy := (y - lb.PadY) / lb.Scale
	return ox, oy
}
