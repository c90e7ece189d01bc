// Package accel owns the process-wide accelerator virtual device and the
// per-model configured network handles built on top of it. It is the
// lowest layer of the inference stack: it knows nothing about letterboxing,
// detection decoding or batching, only about moving raw tensors across the
// accelerator boundary.
package accel

/*
#cgo LDFLAGS: -lhailort -lstdc++
#include "hailoaccel.h"
#include <stdlib.h>
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/hailostream/eventd/internal/log"
)

// StreamShape describes one vstream's tensor layout.
type StreamShape struct {
	Name   string
	Width  int
	Height int
	Depth  int // number of channels / last dim
	Bytes  int // total element count * element size

	// MaxBboxesPerClass is HailoRT's hailo_nms_shape_t.max_bboxes_per_class,
	// set only for on-chip NMS outputs; zero otherwise.
	MaxBboxesPerClass int
}

// ConfiguredNetwork is one HEF's configured network group on the shared
// virtual device, along with its input and output vstream shapes.
type ConfiguredNetwork struct {
	handle unsafe.Pointer
	HEFPath string
	Inputs  []StreamShape
	Outputs []StreamShape

	mu sync.Mutex // serializes WriteInput calls; Run and ReadOutput do not take it
}

// Session is the process-wide accelerator virtual device. There is exactly
// one per process; Init is idempotent.
type Session struct {
	handle unsafe.Pointer
	log    log.Log

	mu       sync.Mutex
	networks map[string]*ConfiguredNetwork // keyed by HEF path
}

var (
	globalOnce    sync.Once
	globalSession *Session
	globalErr     error
)

// Get returns the process-wide accelerator session, creating it on first call.
func Get(logger log.Log) (*Session, error) {
	globalOnce.Do(func() {
		globalSession, globalErr = newSession(logger)
	})
	return globalSession, globalErr
}

func newSession(logger log.Log) (*Session, error) {
	var handle unsafe.Pointer
	err := statusToErr(C.ha_create_vdevice(&handle))
	if err != nil {
		return nil, fmt.Errorf("create accelerator virtual device: %w", err)
	}
	return &Session{handle: handle, log: logger, networks: map[string]*ConfiguredNetwork{}}, nil
}

// Shutdown tears down the virtual device. Safe to call once; a second call
// is a no-op.
func (s *Session) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return
	}
	for path, n := range s.networks {
		C.ha_release_network(s.handle, n.handle)
		delete(s.networks, path)
	}
	C.ha_release_vdevice(s.handle)
	s.handle = nil
}

// Configure returns the configured network for hefPath, loading and
// configuring it on first reference and returning the cached network on
// every subsequent call. This is the per-HEF network cache beneath the
// engine registry in internal/inference, which owns the Engines.
func (s *Session) Configure(hefPath string) (*ConfiguredNetwork, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.networks[hefPath]; ok {
		return n, nil
	}
	cPath := C.CString(hefPath)
	defer C.free(unsafe.Pointer(cPath))

	var handle unsafe.Pointer
	var cIn, cOut *C.ha_stream_info_t
	var nIn, nOut C.size_t
	err := statusToErr(C.ha_configure(s.handle, cPath, &handle, &cIn, &nIn, &cOut, &nOut))
	if err != nil {
		return nil, fmt.Errorf("configure %s: %w", hefPath, err)
	}
	defer C.free(unsafe.Pointer(cIn))
	defer C.free(unsafe.Pointer(cOut))

	n := &ConfiguredNetwork{handle: handle, HEFPath: hefPath}
	n.Inputs = shapesFromC(cIn, int(nIn))
	n.Outputs = shapesFromC(cOut, int(nOut))
	s.networks[hefPath] = n
	s.log.Infof("configured accelerator network for %s (%d inputs, %d outputs)", hefPath, len(n.Inputs), len(n.Outputs))
	return n, nil
}

func shapesFromC(arr *C.ha_stream_info_t, n int) []StreamShape {
	if n == 0 {
		return nil
	}
	cSlice := unsafe.Slice(arr, n)
	out := make([]StreamShape, n)
	for i, c := range cSlice {
		out[i] = StreamShape{
			Name:              C.GoString(&c.name[0]),
			Width:             int(c.width),
			Height:            int(c.height),
			Depth:             int(c.depth),
			Bytes:             int(c.num_bytes),
			MaxBboxesPerClass: int(c.max_bboxes_per_class),
		}
	}
	return out
}

// WriteInput pushes one 8-bit frame into the named input vstream.
func (n *ConfiguredNetwork) WriteInput(name string, data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	if len(data) == 0 {
		return errors.New("empty input buffer")
	}
	return statusToErr(C.ha_write_input(n.handle, cName, unsafe.Pointer(&data[0]), C.size_t(len(data))))
}

// ReadOutput blocks for the named output vstream's next tensor, as float32s.
func (n *ConfiguredNetwork) ReadOutput(name string, numFloats int) ([]float32, error) {
	out := make([]float32, numFloats)
	if numFloats == 0 {
		return out, nil
	}
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	err := statusToErr(C.ha_read_output(n.handle, cName, unsafe.Pointer(&out[0]), C.size_t(numFloats*4)))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Run triggers inference for whatever has been written to every input
// vstream, blocking until the device signals completion or timeoutMs elapses.
func (n *ConfiguredNetwork) Run(timeoutMs int) error {
	return statusToErr(C.ha_run(n.handle, C.int(timeoutMs)))
}

func statusToErr(status C.int) error {
	if status == 0 {
		return nil
	}
	cerr := C.ha_status_str(status)
	if cerr == nil {
		return fmt.Errorf("accelerator error %d", int(status))
	}
	msg := C.GoString(cerr)
	C.free(unsafe.Pointer(cerr))
	return errors.New(msg)
}
