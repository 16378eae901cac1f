// Package player plays call audio through an external command, one process
// per call.
package player

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"sort"
	"sync"
)

var (
	ErrNoCommand = errors.New("no player_command configured")
	ErrNoAudio   = errors.New("call has no audio")
)

type playback struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Player tracks the running playback processes keyed by call id.
type Player struct {
	command []string

	mu      sync.Mutex
	running map[string]*playback
	onExit  func(id string, err error)
}

// New returns a player that runs command followed by the audio URL.
func New(command []string) *Player {
	return &Player{
		command: append([]string(nil), command...),
		running: make(map[string]*playback),
	}
}

// OnExit registers fn to be called, without the player lock, when a playback
// ends for any reason.
func (p *Player) OnExit(fn func(id string, err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onExit = fn
}

// Play starts playing url for id. A call that is already playing is left alone.
func (p *Player) Play(ctx context.Context, id, url string) error {
	if len(p.command) == 0 {
		return ErrNoCommand
	}
	if url == "" {
		return ErrNoAudio
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.running[id]; ok {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	args := append(append([]string{}, p.command[1:]...), url)
	cmd := exec.CommandContext(runCtx, p.command[0], args...)
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start player %s: %w", p.command[0], err)
	}

	pb := &playback{cancel: cancel, done: make(chan struct{})}
	p.running[id] = pb
	go p.wait(id, pb, cmd)
	return nil
}

func (p *Player) wait(id string, pb *playback, cmd *exec.Cmd) {
	err := cmd.Wait()
	pb.cancel()

	p.mu.Lock()
	if p.running[id] == pb {
		delete(p.running, id)
	}
	onExit := p.onExit
	p.mu.Unlock()

	if err != nil {
		log.Printf("Player: playback of %s ended: %v", id, err)
	}
	if onExit != nil {
		onExit(id, err)
	}
	close(pb.done)
}

// Stop ends the playback for id and waits for the process to exit. It reports
// whether anything was playing.
func (p *Player) Stop(id string) bool {
	p.mu.Lock()
	pb, ok := p.running[id]
	p.mu.Unlock()
	if !ok {
		return false
	}
	pb.cancel()
	<-pb.done
	return true
}

// StopAll ends every playback.
func (p *Player) StopAll() {
	for _, id := range p.Playing() {
		p.Stop(id)
	}
}

// IsPlaying reports whether id is playing.
func (p *Player) IsPlaying(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.running[id]
	return ok
}

// Playing returns the ids currently playing, sorted.
func (p *Player) Playing() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.running))
	for id := range p.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
