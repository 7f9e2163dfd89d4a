package audio

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/windfall/pronunciation_service/internal/errors"
)

// MIMEForPath guesses an audio MIME type from a file extension.
func MIMEForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	case ".m4a":
		return "audio/mp4"
	}
	if t := mime.TypeByExtension(filepath.Ext(path)); strings.HasPrefix(t, "audio/") {
		return t
	}
	return ""
}

// FileDevice replays a recorded file as the input stream.
type FileDevice struct {
	Path     string
	MIMEType string
}

type fileStream struct {
	*os.File
	mime string
}

func (s *fileStream) MIMEType() string { return s.mime }

// Finish is a no-op: a file ends at EOF.
func (s *fileStream) Finish() error { return nil }

// Open opens the file.
func (d *FileDevice) Open(ctx context.Context) (Stream, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, errors.DeviceUnavailable(err)
	}
	m := d.MIMEType
	if m == "" {
		m = MIMEForPath(d.Path)
	}
	return &fileStream{File: f, mime: m}, nil
}

// CommandDevice captures from an external recorder that writes encoded
// audio to stdout, e.g. ffmpeg reading the default microphone.
type CommandDevice struct {
	Command  string
	Args     []string
	MIMEType string
}

type commandStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	mime   string
	stop   sync.Once
	reap   sync.Once
}

// Read returns recorder output until the process exits.
func (s *commandStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err == io.EOF {
		s.reap.Do(func() { s.cmd.Wait() })
	}
	return n, err
}

func (s *commandStream) MIMEType() string { return s.mime }

// Finish asks the recorder to exit so it flushes its output, and kills it
// if it has not exited within the grace period.
func (s *commandStream) Finish() error {
	s.stop.Do(func() {
		if s.cmd.Process == nil {
			return
		}
		s.cmd.Process.Signal(os.Interrupt)
		time.AfterFunc(commandGracePeriod, func() { s.cmd.Process.Kill() })
	})
	return nil
}

// Close stops the recorder. Output not yet read is discarded.
func (s *commandStream) Close() error {
	return s.Finish()
}

const commandGracePeriod = 3 * time.Second

// Open starts the recorder process.
func (d *CommandDevice) Open(ctx context.Context) (Stream, error) {
	path, err := exec.LookPath(d.Command)
	if err != nil {
		return nil, errors.DeviceUnavailable(fmt.Errorf("recorder %q not found: %w", d.Command, err))
	}
	cmd := exec.Command(path, d.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.DeviceUnavailable(err)
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.DeviceUnavailable(err)
	}
	return &commandStream{cmd: cmd, stdout: stdout, mime: d.MIMEType}, nil
}

// FFmpegMicrophone returns a CommandDevice recording mono 16 kHz MP3 from
// the platform's default input.
func FFmpegMicrophone(input string) *CommandDevice {
	format := "pulse"
	if input == "" {
		input = "default"
	}
	if strings.HasPrefix(input, ":") {
		format = "avfoundation"
	}
	return &CommandDevice{
		Command: "ffmpeg",
		Args: []string{
			"-loglevel", "error",
			"-f", format, "-i", input,
			"-ac", "1", "-ar", "16000",
			"-c:a", "libmp3lame", "-f", "mp3", "-",
		},
		MIMEType: "audio/mpeg",
	}
}
