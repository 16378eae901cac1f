package sound

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// Player plays the alert tone once.
type Player interface {
	Play(ctx context.Context) error
}

// Bell rings the terminal bell.
type Bell struct {
	Out io.Writer
}

func (b Bell) Play(ctx context.Context) error {
	_, err := io.WriteString(b.Out, "\a")
	return err
}

// Silent plays nothing.
type Silent struct{}

func (Silent) Play(ctx context.Context) error { return nil }

// CommandPlayer renders the tone to a WAV file once and hands it to an
// external player such as aplay or afplay.
type CommandPlayer struct {
	command []string
	tone    ToneSpec
	dir     string

	once    sync.Once
	path    string
	initErr error
}

func NewCommandPlayer(command []string, tone ToneSpec, dir string) (*CommandPlayer, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("sound command is empty")
	}
	if err := tone.validate(); err != nil {
		return nil, err
	}
	if dir == "" {
		dir = os.TempDir()
	}
	return &CommandPlayer{command: command, tone: tone, dir: dir}, nil
}

func (p *CommandPlayer) prepare() {
	f, err := os.CreateTemp(p.dir, "callwatch-alert-*.wav")
	if err != nil {
		p.initErr = fmt.Errorf("failed to create alert WAV: %w", err)
		return
	}
	defer f.Close()
	if err := p.tone.WriteWAV(f); err != nil {
		os.Remove(f.Name())
		p.initErr = err
		return
	}
	p.path = filepath.Clean(f.Name())
}

// Path returns the rendered WAV path, rendering it on first use.
func (p *CommandPlayer) Path() (string, error) {
	p.once.Do(p.prepare)
	return p.path, p.initErr
}

func (p *CommandPlayer) Play(ctx context.Context) error {
	path, err := p.Path()
	if err != nil {
		return err
	}
	args := append(append([]string{}, p.command[1:]...), path)
	out, err := exec.CommandContext(ctx, p.command[0], args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("sound command %s failed: %w: %s", p.command[0], err, out)
	}
	return nil
}

// Close removes the rendered WAV file.
func (p *CommandPlayer) Close() error {
	if p.path == "" {
		return nil
	}
	return os.Remove(p.path)
}
