// Package audio plays synthesized speech through a local player binary.
package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// Player plays a complete audio clip (MP3 bytes).
type Player interface {
	Play(ctx context.Context, data []byte) error
}

// ExecPlayer shells out to the first available command-line audio player.
type ExecPlayer struct {
	command string
	args    []string
}

// playerCandidates lists known players in preference order per platform.
// Each entry's args end where the file path goes.
func playerCandidates() [][]string {
	candidates := [][]string{
		{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"},
		{"mpg123", "-q"},
		{"mpv", "--no-video", "--really-quiet"},
	}
	if runtime.GOOS == "darwin" {
		candidates = append([][]string{{"afplay"}}, candidates...)
	}
	return candidates
}

// NewExecPlayer locates a usable player binary. command overrides
// autodetection when non-empty.
func NewExecPlayer(command string) (*ExecPlayer, error) {
	if command != "" {
		if _, err := exec.LookPath(command); err != nil {
			return nil, fmt.Errorf("audio player %q not found: %w", command, err)
		}
		return &ExecPlayer{command: command}, nil
	}
	for _, cand := range playerCandidates() {
		if _, err := exec.LookPath(cand[0]); err == nil {
			return &ExecPlayer{command: cand[0], args: cand[1:]}, nil
		}
	}
	return nil, fmt.Errorf("no audio player found (tried ffplay, mpg123, mpv)")
}

// Play writes the clip to a temp file and blocks until playback finishes.
func (p *ExecPlayer) Play(ctx context.Context, data []byte) error {
	f, err := os.CreateTemp("", "chatrelay-*.mp3")
	if err != nil {
		return fmt.Errorf("create temp audio file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp audio file: %w", err)
	}
	f.Close()

	args := append(append([]string{}, p.args...), path)
	cmd := exec.CommandContext(ctx, p.command, args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", p.command, err)
	}
	return nil
}

// NopPlayer discards audio; used by tests and --mute runs.
type NopPlayer struct{}

func (NopPlayer) Play(ctx context.Context, data []byte) error { return nil }
