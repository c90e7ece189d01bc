// Package videodecode wraps ffmpeg's H264 decoder, emitting packed RGB8
// frames rather than the RGBA the teacher's preview pipeline used -- the
// inference letterbox step needs 3 bytes/pixel, not 4.
package videodecode

import (
	"fmt"
	"unsafe"
)

// #cgo pkg-config: libavcodec libavutil libswscale
// #include <libavcodec/avcodec.h>
// #include <libavutil/imgutils.h>
// #include <libswscale/swscale.h>
import "C"

func frameData(frame *C.AVFrame) **C.uint8_t {
	return (**C.uint8_t)(unsafe.Pointer(&frame.data[0]))
}

func frameLineSize(frame *C.AVFrame) *C.int {
	return (*C.int)(unsafe.Pointer(&frame.linesize[0]))
}

// H264Decoder decodes Annex-B H264 NALUs into packed RGB8 frames.
type H264Decoder struct {
	codecCtx *C.AVCodecContext
	avPacket C.AVPacket
	srcFrame *C.AVFrame
	swsCtx   *C.struct_SwsContext
	dstFrame *C.AVFrame
	dstBytes []byte
}

func New() (*H264Decoder, error) {
	codec := C.avcodec_find_decoder(C.AV_CODEC_ID_H264)
	if codec == nil {
		return nil, fmt.Errorf("avcodec_find_decoder failed")
	}
	ctx := C.avcodec_alloc_context3(codec)
	if ctx == nil {
		return nil, fmt.Errorf("avcodec_alloc_context3 failed")
	}
	if res := C.avcodec_open2(ctx, codec, nil); res < 0 {
		C.avcodec_close(ctx)
		return nil, fmt.Errorf("avcodec_open2 failed: %v", res)
	}
	src := C.av_frame_alloc()
	if src == nil {
		C.avcodec_close(ctx)
		return nil, fmt.Errorf("av_frame_alloc failed")
	}
	pkt := C.AVPacket{}
	C.av_init_packet(&pkt)
	return &H264Decoder{codecCtx: ctx, srcFrame: src, avPacket: pkt}, nil
}

func (d *H264Decoder) Close() {
	if d.dstFrame != nil {
		C.av_frame_free(&d.dstFrame)
	}
	if d.swsCtx != nil {
		C.sws_freeContext(d.swsCtx)
	}
	C.av_frame_free(&d.srcFrame)
	C.avcodec_close(d.codecCtx)
}

// Decode feeds one Annex-B NALU payload to the decoder and returns the next
// available frame as packed RGB8, or (nil, 0, 0, nil) if none is ready yet.
func (d *H264Decoder) Decode(annexBNALU []byte) (rgb []byte, width, height int, err error) {
	d.avPacket.data = (*C.uint8_t)(C.CBytes(annexBNALU))
	defer C.free(unsafe.Pointer(d.avPacket.data))
	d.avPacket.size = C.int(len(annexBNALU))

	if res := C.avcodec_send_packet(d.codecCtx, &d.avPacket); res < 0 {
		// Expected before the first IDR frame has been seen.
		return nil, 0, 0, nil
	}

	res := C.avcodec_receive_frame(d.codecCtx, d.srcFrame)
	if res < 0 {
		return nil, 0, 0, nil
	}

	if d.dstFrame == nil || d.dstFrame.width != d.srcFrame.width || d.dstFrame.height != d.srcFrame.height {
		if d.dstFrame != nil {
			C.av_frame_free(&d.dstFrame)
		}
		if d.swsCtx != nil {
			C.sws_freeContext(d.swsCtx)
		}
		d.dstFrame = C.av_frame_alloc()
		d.dstFrame.format = C.AV_PIX_FMT_RGB24
		d.dstFrame.width = d.srcFrame.width
		d.dstFrame.height = d.srcFrame.height
		if res := C.av_frame_get_buffer(d.dstFrame, 1); res < 0 {
			return nil, 0, 0, fmt.Errorf("av_frame_get_buffer failed: %v", res)
		}
		d.swsCtx = C.sws_getContext(d.srcFrame.width, d.srcFrame.height, C.AV_PIX_FMT_YUV420P,
			d.dstFrame.width, d.dstFrame.height, (int32)(d.dstFrame.format), C.SWS_BILINEAR, nil, nil, nil)
		if d.swsCtx == nil {
			return nil, 0, 0, fmt.Errorf("sws_getContext failed")
		}
		size := C.av_image_get_buffer_size((int32)(d.dstFrame.format), d.dstFrame.width, d.dstFrame.height, 1)
		d.dstBytes = (*[1 << 30]uint8)(unsafe.Pointer(d.dstFrame.data[0]))[:size:size]
	}

	if res := C.sws_scale(d.swsCtx, frameData(d.srcFrame), frameLineSize(d.srcFrame),
		0, d.srcFrame.height, frameData(d.dstFrame), frameLineSize(d.dstFrame)); res < 0 {
		return nil, 0, 0, fmt.Errorf("sws_scale failed: %v", res)
	}

	out := make([]byte, len(d.dstBytes))
	copy(out, d.dstBytes)
	return out, int(d.dstFrame.width), int(d.dstFrame.height), nil
}
