// Package audio records learner speech and plays reference audio.
package audio

import (
	"bytes"
	"context"
	"encoding/base64"
	stderrors "errors"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/windfall/pronunciation_service/internal/errors"
)

// DefaultMIMEType is used when a device does not report its encoding.
const DefaultMIMEType = "audio/webm"

// Stream is a live source of encoded audio. Close stops the device and
// unblocks a pending Read.
type Stream interface {
	io.ReadCloser
	MIMEType() string
}

// Finisher is implemented by streams that can end on their own. Finish asks
// the source to stop producing, after which Read drains to io.EOF.
type Finisher interface {
	Finish() error
}

// Device opens an input stream.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Recording is a finalized capture.
type Recording struct {
	Data     []byte
	MIMEType string
}

// Base64 returns the recording encoded for the evaluation API.
func (r *Recording) Base64() string {
	return base64.StdEncoding.EncodeToString(r.Data)
}

type capture struct {
	stream Stream
	mime   string
	buf    bytes.Buffer
	done   chan struct{}
	err    error
}

func (c *capture) pump() {
	defer close(c.done)
	_, err := io.Copy(&c.buf, c.stream)
	if err != nil && !stderrors.Is(err, os.ErrClosed) && !stderrors.Is(err, fs.ErrClosed) && !stderrors.Is(err, io.ErrClosedPipe) {
		c.err = err
	}
}

// Recorder buffers one capture at a time.
type Recorder struct {
	device Device

	mu     sync.Mutex
	active *capture
}

// NewRecorder creates a recorder over device.
func NewRecorder(device Device) *Recorder {
	return &Recorder{device: device}
}

// Start opens the device and begins buffering. It fails with
// AlreadyRecording while a capture is active, leaving that capture alone.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return errors.AlreadyRecording()
	}
	if r.device == nil {
		return errors.DeviceUnavailable(stderrors.New("no input device"))
	}

	stream, err := r.device.Open(ctx)
	if err != nil {
		if appErr, ok := errors.As(err); ok && appErr.Code == errors.ErrDeviceUnavailable {
			return appErr
		}
		return errors.DeviceUnavailable(err)
	}

	mime := stream.MIMEType()
	if mime == "" {
		mime = DefaultMIMEType
	}
	c := &capture{stream: stream, mime: mime, done: make(chan struct{})}
	go c.pump()
	r.active = c
	return nil
}

// Stop finalizes the active capture and releases the device. Streams that
// implement Finisher are drained to EOF before they are closed. Without an
// active capture it returns nil, nil; a capture that produced no bytes fails
// with EmptyRecording.
func (r *Recorder) Stop() (*Recording, error) {
	c := r.detach()
	if c == nil {
		return nil, nil
	}

	if f, ok := c.stream.(Finisher); ok {
		f.Finish()
		<-c.done
		c.stream.Close()
	} else {
		c.stream.Close()
		<-c.done
	}
	if c.err != nil {
		return nil, errors.DeviceUnavailable(c.err)
	}
	if c.buf.Len() == 0 {
		return nil, errors.EmptyRecording()
	}

	data := make([]byte, c.buf.Len())
	copy(data, c.buf.Bytes())
	return &Recording{Data: data, MIMEType: c.mime}, nil
}

// Release discards the active capture, if any, and frees the device.
func (r *Recorder) Release() {
	c := r.detach()
	if c == nil {
		return
	}
	c.stream.Close()
	<-c.done
}

// IsRecording reports whether a capture is active.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

func (r *Recorder) detach() *capture {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.active
	r.active = nil
	return c
}
