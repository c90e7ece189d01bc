// Package ingest is the default RTSP video source, satisfying the
// stream.Ingest contract (SPEC_FULL.md 6): produces packed RGB8 frames with
// their (width, height) from a live RTSP H264 stream. Decode internals
// (RTP depacketization, H264->RGB) are this package's private concern, not
// part of the Stream Processor it feeds.
package ingest

import (
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/pion/rtp"

	"github.com/hailostream/eventd/internal/log"
	"github.com/hailostream/eventd/internal/videodecode"
)

// RTSPIngest connects to one RTSP source and decodes its H264 track to RGB.
type RTSPIngest struct {
	log log.Log

	LatencyMs  int
	TimeoutUs  int
	RetryCount int

	mu      sync.Mutex
	client  *gortsplib.Client
	decoder *videodecode.H264Decoder
	stopped bool
}

func New(logger log.Log, latencyMs, timeoutUs, retryCount int) *RTSPIngest {
	if retryCount <= 0 {
		retryCount = 3
	}
	if timeoutUs <= 0 {
		timeoutUs = 10_000_000
	}
	return &RTSPIngest{log: logger, LatencyMs: latencyMs, TimeoutUs: timeoutUs, RetryCount: retryCount}
}

// Start connects, negotiates the H264 track, and begins delivering decoded
// RGB frames to onFrame from the RTP-reader goroutine. Connect, describe,
// setup and play failures are returned from Start; once playing, onError is
// invoked once when the stream ends (EOS or read failure) unless Stop was
// called. The caller (Stream Processor) owns reconnect scheduling.
func (r *RTSPIngest) Start(rtspURL string, onFrame func(rgb []byte, width, height int), onError func(error)) error {
	u, err := base.ParseURL(rtspURL)
	if err != nil {
		return fmt.Errorf("parse rtsp url: %w", err)
	}

	client := &gortsplib.Client{
		ReadTimeout: time.Duration(r.TimeoutUs) * time.Microsecond,
	}

	var lastErr error
	for attempt := 0; attempt < r.RetryCount; attempt++ {
		lastErr = client.Start(u.Scheme, u.Host)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return fmt.Errorf("connect to %s: %w", rtspURL, lastErr)
	}

	desc, _, err := client.Describe(u)
	if err != nil {
		client.Close()
		return fmt.Errorf("describe %s: %w", rtspURL, err)
	}

	var h264Format *format.H264
	media := desc.FindFormat(&h264Format)
	if media == nil {
		client.Close()
		return fmt.Errorf("no H264 track in %s", rtspURL)
	}

	decoder, err := videodecode.New()
	if err != nil {
		client.Close()
		return fmt.Errorf("start h264 decoder: %w", err)
	}

	rtpDec, err := h264Format.CreateDecoder()
	if err != nil {
		client.Close()
		decoder.Close()
		return fmt.Errorf("create rtp depacketizer: %w", err)
	}

	r.feedParameterSets(decoder, h264Format)

	if _, err := client.Setup(desc.BaseURL, media, 0, 0); err != nil {
		client.Close()
		decoder.Close()
		return fmt.Errorf("setup %s: %w", rtspURL, err)
	}

	client.OnPacketRTP(media, h264Format, func(pkt *rtp.Packet) {
		r.onRTPPacket(pkt, rtpDec, decoder, onFrame)
	})

	r.mu.Lock()
	r.client = client
	r.decoder = decoder
	r.stopped = false
	r.mu.Unlock()

	if _, err := client.Play(nil); err != nil {
		client.Close()
		decoder.Close()
		return fmt.Errorf("play %s: %w", rtspURL, err)
	}

	go func() {
		waitErr := client.Wait()
		r.mu.Lock()
		stopped := r.stopped
		r.mu.Unlock()
		decoder.Close()
		if !stopped {
			onError(fmt.Errorf("rtsp stream %s ended: %w", rtspURL, waitErr))
		}
	}()

	return nil
}

func (r *RTSPIngest) feedParameterSets(decoder *videodecode.H264Decoder, f *format.H264) {
	if f.SPS != nil {
		if au, err := h264.AnnexBMarshal([][]byte{f.SPS}); err == nil {
			_, _, _ = decoder.Decode(au)
		}
	}
	if f.PPS != nil {
		if au, err := h264.AnnexBMarshal([][]byte{f.PPS}); err == nil {
			_, _, _ = decoder.Decode(au)
		}
	}
}

func (r *RTSPIngest) onRTPPacket(pkt *rtp.Packet, rtpDec *rtph264.Decoder, decoder *videodecode.H264Decoder, onFrame func([]byte, int, int)) {
	nalus, _, err := rtpDec.Decode(pkt)
	if err != nil {
		return
	}
	au, err := h264.AnnexBMarshal(nalus)
	if err != nil {
		r.log.Warnf("annex-b marshal failed: %v", err)
		return
	}
	rgb, width, height, err := decoder.Decode(au)
	if err != nil {
		r.log.Warnf("h264 decode failed: %v", err)
		return
	}
	if rgb == nil {
		return
	}
	onFrame(rgb, width, height)
}

// Stop closes the RTSP session; the stream's Wait goroutine exits without
// invoking onError.
func (r *RTSPIngest) Stop() {
	r.mu.Lock()
	r.stopped = true
	client := r.client
	r.client = nil
	r.mu.Unlock()
	if client != nil {
		client.Close()
	}
}
