package audio

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/windfall/pronunciation_service/internal/errors"
	"github.com/windfall/pronunciation_service/internal/model"
)

// pipeDevice hands out an io.Pipe so tests control what is "spoken".
type pipeDevice struct {
	mime   string
	writer *io.PipeWriter
	opens  int
	err    error
}

type pipeStream struct {
	*io.PipeReader
	mime string
}

func (s *pipeStream) MIMEType() string { return s.mime }

func (d *pipeDevice) Open(ctx context.Context) (Stream, error) {
	d.opens++
	if d.err != nil {
		return nil, d.err
	}
	r, w := io.Pipe()
	d.writer = w
	return &pipeStream{PipeReader: r, mime: d.mime}, nil
}

func TestRecorder_StartStop(t *testing.T) {
	dev := &pipeDevice{mime: "audio/ogg"}
	rec := NewRecorder(dev)

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !rec.IsRecording() {
		t.Fatal("IsRecording() = false after Start")
	}
	dev.writer.Write([]byte("chunk1"))
	dev.writer.Write([]byte("chunk2"))

	got, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if string(got.Data) != "chunk1chunk2" || got.MIMEType != "audio/ogg" {
		t.Errorf("recording = %q %s", got.Data, got.MIMEType)
	}
	if got.Base64() != "Y2h1bmsxY2h1bmsy" {
		t.Errorf("Base64() = %s", got.Base64())
	}
	if rec.IsRecording() {
		t.Error("still recording after Stop")
	}
	if _, err := dev.writer.Write([]byte("late")); err == nil {
		t.Error("device not released")
	}
}

func TestRecorder_StopWithoutStart(t *testing.T) {
	rec := NewRecorder(&pipeDevice{})
	got, err := rec.Stop()
	if got != nil || err != nil {
		t.Errorf("Stop() = %v, %v, want nil, nil", got, err)
	}
}

func TestRecorder_AlreadyRecording(t *testing.T) {
	dev := &pipeDevice{}
	rec := NewRecorder(dev)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := dev.writer
	first.Write([]byte("keep"))

	err := rec.Start(context.Background())
	if !errors.Is(err, errors.ErrAlreadyRecording) {
		t.Fatalf("second Start() err = %v", err)
	}
	if dev.opens != 1 {
		t.Errorf("device opened %d times", dev.opens)
	}

	got, err := rec.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Data) != "keep" || got.MIMEType != DefaultMIMEType {
		t.Errorf("recording = %q %s", got.Data, got.MIMEType)
	}
}

func TestRecorder_DeviceUnavailable(t *testing.T) {
	rec := NewRecorder(&pipeDevice{err: stderrors.New("permission denied")})
	err := rec.Start(context.Background())
	if !errors.Is(err, errors.ErrDeviceUnavailable) {
		t.Errorf("err = %v", err)
	}
	if rec.IsRecording() {
		t.Error("recording after failed Start")
	}

	if err := NewRecorder(nil).Start(context.Background()); !errors.Is(err, errors.ErrDeviceUnavailable) {
		t.Errorf("nil device err = %v", err)
	}
}

func TestRecorder_Release(t *testing.T) {
	dev := &pipeDevice{}
	rec := NewRecorder(dev)
	rec.Start(context.Background())
	rec.Release()
	if rec.IsRecording() {
		t.Error("still recording after Release")
	}
	if got, _ := rec.Stop(); got != nil {
		t.Errorf("Stop() after Release = %v", got)
	}
	rec.Release()
}

func TestFileDevice(t *testing.T) {
	data := bytes.Repeat([]byte("ID3frame"), 8<<10)
	path := filepath.Join(t.TempDir(), "take.mp3")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	rec := NewRecorder(&FileDevice{Path: path})
	for i := 0; i < 50; i++ {
		if err := rec.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		got, err := rec.Stop()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got.Data, data) || got.MIMEType != "audio/mpeg" {
			t.Fatalf("take %d: recording = %d bytes %s, want %d bytes", i, len(got.Data), got.MIMEType, len(data))
		}
	}

	missing := NewRecorder(&FileDevice{Path: filepath.Join(t.TempDir(), "nope.wav")})
	if err := missing.Start(context.Background()); !errors.Is(err, errors.ErrDeviceUnavailable) {
		t.Errorf("missing file err = %v", err)
	}

	empty := filepath.Join(t.TempDir(), "empty.wav")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	rec = NewRecorder(&FileDevice{Path: empty})
	if err := rec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got, err := rec.Stop(); got != nil || !errors.Is(err, errors.ErrEmptyRecording) {
		t.Errorf("empty file Stop() = %v, %v", got, err)
	}
}

// flushingStream writes a trailer when asked to finish, like an encoder
// flushing its last frame before exiting.
type flushingStream struct {
	*io.PipeReader
	w      *io.PipeWriter
	closed bool
}

func (s *flushingStream) MIMEType() string { return "audio/mpeg" }

func (s *flushingStream) Finish() error {
	go func() {
		s.w.Write([]byte("-trailer"))
		s.w.Close()
	}()
	return nil
}

func (s *flushingStream) Close() error {
	s.closed = true
	return s.PipeReader.Close()
}

type flushingDevice struct{ stream *flushingStream }

func (d *flushingDevice) Open(ctx context.Context) (Stream, error) {
	r, w := io.Pipe()
	d.stream = &flushingStream{PipeReader: r, w: w}
	return d.stream, nil
}

func TestRecorder_StopDrainsFinisher(t *testing.T) {
	dev := &flushingDevice{}
	rec := NewRecorder(dev)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	dev.stream.w.Write([]byte("body"))

	got, err := rec.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Data) != "body-trailer" {
		t.Errorf("recording = %q, want body-trailer", got.Data)
	}
	if !dev.stream.closed {
		t.Error("stream not closed after drain")
	}
}

func TestRecorder_EmptyTake(t *testing.T) {
	rec := NewRecorder(&pipeDevice{})
	if err := rec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, err := rec.Stop()
	if got != nil || !errors.Is(err, errors.ErrEmptyRecording) {
		t.Errorf("Stop() = %v, %v, want EmptyRecording", got, err)
	}
	if rec.IsRecording() {
		t.Error("still recording after empty Stop")
	}
}

func TestCommandDevice_MissingBinary(t *testing.T) {
	dev := &CommandDevice{Command: "definitely-not-a-recorder-binary"}
	if _, err := dev.Open(context.Background()); !errors.Is(err, errors.ErrDeviceUnavailable) {
		t.Errorf("err = %v", err)
	}
}

func TestFilePlayer(t *testing.T) {
	p := &FilePlayer{Dir: t.TempDir()}
	pb, err := p.Play(context.Background(), &model.SynthesizedAudio{Data: []byte("mp3"), MIMEType: "audio/mpeg"})
	if err != nil {
		t.Fatal(err)
	}
	path := pb.(*filePlayback).Path()
	if filepath.Ext(path) != ".mp3" {
		t.Errorf("path = %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("playback file missing: %v", err)
	}
	if err := pb.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("playback file not removed: %v", err)
	}
	if err := pb.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}

func TestMIMEForPath(t *testing.T) {
	tests := map[string]string{
		"a.MP3":  "audio/mpeg",
		"b.wav":  "audio/wav",
		"c.opus": "audio/ogg",
		"d.webm": "audio/webm",
		"e.txt":  "",
	}
	for path, want := range tests {
		if got := MIMEForPath(path); got != want {
			t.Errorf("MIMEForPath(%s) = %q, want %q", path, got, want)
		}
	}
}
