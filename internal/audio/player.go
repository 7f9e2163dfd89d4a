package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/windfall/pronunciation_service/internal/model"
)

// Playback is an exclusive handle on played reference audio.
type Playback interface {
	// Release stops playback and frees the handle. It is safe to call twice.
	Release() error
}

// Player plays synthesized audio.
type Player interface {
	Play(ctx context.Context, audio *model.SynthesizedAudio) (Playback, error)
}

// FilePlayer writes audio to a temporary file and optionally starts an
// external player on it.
type FilePlayer struct {
	Dir     string
	Command string
	Args    []string
}

type filePlayback struct {
	path string
	cmd  *exec.Cmd
	once sync.Once
	err  error
}

// Path returns the file holding the audio.
func (p *filePlayback) Path() string { return p.path }

func (p *filePlayback) Release() error {
	p.once.Do(func() {
		if p.cmd != nil && p.cmd.Process != nil {
			p.cmd.Process.Kill()
			p.cmd.Wait()
		}
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
			p.err = err
		}
	})
	return p.err
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".bin"
	}
}

// Play writes the audio and starts the player command, if configured.
func (p *FilePlayer) Play(ctx context.Context, audio *model.SynthesizedAudio) (Playback, error) {
	f, err := os.CreateTemp(p.Dir, "reference-*"+extensionFor(audio.MIMEType))
	if err != nil {
		return nil, fmt.Errorf("failed to create playback file: %w", err)
	}
	if _, err := f.Write(audio.Data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write playback file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write playback file: %w", err)
	}

	pb := &filePlayback{path: f.Name()}
	if p.Command == "" {
		return pb, nil
	}

	args := append(append([]string{}, p.Args...), pb.path)
	cmd := exec.Command(p.Command, args...)
	if err := cmd.Start(); err != nil {
		pb.Release()
		return nil, fmt.Errorf("failed to start player: %w", err)
	}
	pb.cmd = cmd
	return pb, nil
}
