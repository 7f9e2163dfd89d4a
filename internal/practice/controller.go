// Package practice drives one learner through record, evaluate and review
// for the selected drill item.
package practice

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/windfall/pronunciation_service/internal/audio"
	"github.com/windfall/pronunciation_service/internal/errors"
	"github.com/windfall/pronunciation_service/internal/model"
)

// State is the practice state of the selected item.
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateEvaluating State = "evaluating"
	StateScored     State = "scored"
	StateFailed     State = "failed"
)

// LoadingMessage is shown while an evaluation is in flight.
const LoadingMessage = "AI 正在分析您的发音..."

// Capture records one take at a time.
type Capture interface {
	Start(ctx context.Context) error
	Stop() (*audio.Recording, error)
	Release()
	IsRecording() bool
}

// Evaluator scores a take.
type Evaluator interface {
	Evaluate(ctx context.Context, req model.EvaluationRequest) (*model.EvaluationResult, error)
}

// Speaker synthesizes reference audio.
type Speaker interface {
	Synthesize(ctx context.Context, text string) (*model.SynthesizedAudio, error)
}

// SessionStore is the identity backend seen by the controller.
type SessionStore interface {
	CurrentUser(ctx context.Context) (*model.User, error)
	Logout(ctx context.Context) error
}

// Snapshot is a consistent copy of the controller state for display.
type Snapshot struct {
	Level   model.PracticeLevel
	Item    *model.PracticeItem
	State   State
	Result  *model.EvaluationResult
	Band    model.Band
	Message string
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Capture   Capture
	Evaluator Evaluator
	Speaker   Speaker
	Player    audio.Player
	Sessions  SessionStore
	Log       zerolog.Logger
	// OnChange, if set, receives a snapshot after every transition.
	OnChange func(Snapshot)
}

// Controller is the practice state machine:
// idle -> recording -> evaluating -> scored | failed -> idle.
type Controller struct {
	deps Deps

	mu         sync.Mutex
	level      model.PracticeLevel
	item       *model.PracticeItem
	state      State
	result     *model.EvaluationResult
	message    string
	generation uint64
	cancel     context.CancelFunc
	playback   audio.Playback
	inflight   sync.WaitGroup
}

// NewController creates a controller with no item selected.
func NewController(deps Deps) *Controller {
	return &Controller{deps: deps, state: StateIdle}
}

// Select switches to a new item. Any capture, playback or evaluation that
// belongs to the previous item is released, and a late result for it is
// discarded.
func (c *Controller) Select(level model.PracticeLevel, item model.PracticeItem) {
	c.mu.Lock()
	c.resetLocked()
	c.level = level
	c.item = &item
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// Retry clears the previous score or error so the item can be recorded again.
func (c *Controller) Retry() {
	c.mu.Lock()
	if c.state != StateScored && c.state != StateFailed {
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	c.result = nil
	c.message = ""
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// Start begins recording the selected item.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.item == nil:
		c.mu.Unlock()
		return errors.Validation("请先选择练习内容。")
	case c.state == StateRecording || c.deps.Capture.IsRecording():
		c.mu.Unlock()
		return errors.AlreadyRecording()
	case c.state == StateEvaluating:
		c.mu.Unlock()
		return errors.Conflict(LoadingMessage)
	}

	if err := c.deps.Capture.Start(ctx); err != nil {
		if !errors.Is(err, errors.ErrAlreadyRecording) {
			c.state = StateFailed
			c.result = nil
			c.message = Message(err)
		}
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return err
	}

	c.state = StateRecording
	c.result = nil
	c.message = ""
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	return nil
}

// Stop finalizes the take and starts its evaluation in the background.
// Stopping with nothing recorded is a no-op. Use Wait to block until the
// evaluation has settled.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return nil
	}

	rec, err := c.deps.Capture.Stop()
	if err != nil {
		c.state = StateFailed
		c.message = Message(err)
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return err
	}
	if rec == nil {
		c.state = StateIdle
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return nil
	}

	req := model.EvaluationRequest{
		AudioBase64:   rec.Base64(),
		AudioMimeType: rec.MIMEType,
		ReferenceText: c.item.ReferenceText(c.level),
	}
	if c.level == model.LevelPhonemes {
		req.IPA = c.item.IPA
	}

	evalCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.state = StateEvaluating
	c.message = LoadingMessage
	gen := c.generation
	c.inflight.Add(1)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	go c.evaluate(evalCtx, cancel, gen, req)
	return nil
}

func (c *Controller) evaluate(ctx context.Context, cancel context.CancelFunc, gen uint64, req model.EvaluationRequest) {
	defer c.inflight.Done()
	defer cancel()

	result, err := c.deps.Evaluator.Evaluate(ctx, req)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.deps.Log.Debug().Str("reference", req.ReferenceText).Msg("Discarding stale evaluation")
		return
	}
	c.cancel = nil
	if err != nil {
		c.state = StateFailed
		c.result = nil
		c.message = Message(err)
		c.deps.Log.Warn().Err(err).Str("reference", req.ReferenceText).Msg("Evaluation failed")
	} else {
		c.state = StateScored
		c.result = result
		c.message = result.Feedback
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// Wait blocks until no evaluation is in flight.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

// PlayReference synthesizes and plays the selected item's reference audio,
// replacing any earlier playback.
func (c *Controller) PlayReference(ctx context.Context) error {
	c.mu.Lock()
	if c.item == nil {
		c.mu.Unlock()
		return errors.Validation("请先选择练习内容。")
	}
	text := c.item.SpeechText()
	gen := c.generation
	c.mu.Unlock()

	clip, err := c.deps.Speaker.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	pb, err := c.deps.Player.Play(ctx, clip)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		pb.Release()
		return nil
	}
	if c.playback != nil {
		c.playback.Release()
	}
	c.playback = pb
	return nil
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// CurrentUser returns the signed-in user, or nil.
func (c *Controller) CurrentUser(ctx context.Context) (*model.User, error) {
	if c.deps.Sessions == nil {
		return nil, nil
	}
	return c.deps.Sessions.CurrentUser(ctx)
}

// Logout ends the session and releases every handle.
func (c *Controller) Logout(ctx context.Context) error {
	c.Close()
	if c.deps.Sessions == nil {
		return nil
	}
	return c.deps.Sessions.Logout(ctx)
}

// Close releases capture and playback handles and abandons any in-flight
// evaluation.
func (c *Controller) Close() {
	c.mu.Lock()
	c.resetLocked()
	c.item = nil
	c.mu.Unlock()

	c.inflight.Wait()
}

// resetLocked bumps the generation and frees everything tied to the
// current item.
func (c *Controller) resetLocked() {
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.deps.Capture.Release()
	if c.playback != nil {
		if err := c.playback.Release(); err != nil {
			c.deps.Log.Warn().Err(err).Msg("Failed to release playback")
		}
		c.playback = nil
	}
	c.state = StateIdle
	c.result = nil
	c.message = ""
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		Level:   c.level,
		State:   c.state,
		Result:  c.result,
		Message: c.message,
	}
	if c.item != nil {
		item := *c.item
		s.Item = &item
	}
	if c.result != nil {
		s.Band = model.BandFor(c.result.Overall)
	}
	return s
}

func (c *Controller) notify(s Snapshot) {
	if c.deps.OnChange != nil {
		c.deps.OnChange(s)
	}
}
