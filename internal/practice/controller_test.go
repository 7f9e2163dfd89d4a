package practice

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/windfall/pronunciation_service/internal/audio"
	"github.com/windfall/pronunciation_service/internal/errors"
	"github.com/windfall/pronunciation_service/internal/model"
)

type memDevice struct {
	mu     sync.Mutex
	writer *io.PipeWriter
	err    error
}

type memStream struct {
	*io.PipeReader
}

func (memStream) MIMEType() string { return "audio/webm" }

func (d *memDevice) Open(ctx context.Context) (audio.Stream, error) {
	if d.err != nil {
		return nil, d.err
	}
	r, w := io.Pipe()
	d.mu.Lock()
	d.writer = w
	d.mu.Unlock()
	return memStream{r}, nil
}

func (d *memDevice) say(s string) {
	d.mu.Lock()
	w := d.writer
	d.mu.Unlock()
	w.Write([]byte(s))
}

// gatedEvaluator blocks each call until released, then answers with the
// score registered for the reference text.
type gatedEvaluator struct {
	mu       sync.Mutex
	scores   map[string]float64
	err      error
	gate     chan struct{}
	requests []model.EvaluationRequest
	started  chan struct{}
}

func newGatedEvaluator() *gatedEvaluator {
	return &gatedEvaluator{
		scores:  map[string]float64{},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 8),
	}
}

func (e *gatedEvaluator) Evaluate(ctx context.Context, req model.EvaluationRequest) (*model.EvaluationResult, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()
	e.started <- struct{}{}

	select {
	case <-e.gate:
	case <-time.After(5 * time.Second):
	}
	if e.err != nil {
		return nil, e.err
	}
	return &model.EvaluationResult{Kind: model.KindScore, Overall: e.scores[req.ReferenceText], Feedback: "继续加油"}, nil
}

type fakeSpeaker struct{ texts []string }

func (s *fakeSpeaker) Synthesize(ctx context.Context, text string) (*model.SynthesizedAudio, error) {
	s.texts = append(s.texts, text)
	return &model.SynthesizedAudio{Data: []byte("mp3"), MIMEType: "audio/mpeg"}, nil
}

type fakePlayback struct{ released bool }

func (p *fakePlayback) Release() error { p.released = true; return nil }

type fakePlayer struct{ handles []*fakePlayback }

func (p *fakePlayer) Play(ctx context.Context, a *model.SynthesizedAudio) (audio.Playback, error) {
	pb := &fakePlayback{}
	p.handles = append(p.handles, pb)
	return pb, nil
}

type fakeSessions struct {
	user      *model.User
	loggedOut bool
}

func (s *fakeSessions) CurrentUser(ctx context.Context) (*model.User, error) {
	if s.loggedOut {
		return nil, nil
	}
	return s.user, nil
}

func (s *fakeSessions) Logout(ctx context.Context) error {
	s.loggedOut = true
	return nil
}

type harness struct {
	ctrl     *Controller
	device   *memDevice
	recorder *audio.Recorder
	eval     *gatedEvaluator
	speaker  *fakeSpeaker
	player   *fakePlayer
	sessions *fakeSessions
}

func newHarness() *harness {
	h := &harness{
		device:   &memDevice{},
		eval:     newGatedEvaluator(),
		speaker:  &fakeSpeaker{},
		player:   &fakePlayer{},
		sessions: &fakeSessions{user: &model.User{Identifier: "13800138000"}},
	}
	h.recorder = audio.NewRecorder(h.device)
	h.ctrl = NewController(Deps{
		Capture:   h.recorder,
		Evaluator: h.eval,
		Speaker:   h.speaker,
		Player:    h.player,
		Sessions:  h.sessions,
		Log:       zerolog.Nop(),
	})
	return h
}

var (
	seePhoneme = model.PracticeItem{Text: "/iː/", IPA: "/iː/", ExampleWord: "see"}
	appleWord  = model.PracticeItem{Text: "apple", IPA: "/ˈæpəl/"}
)

func TestController_HappyPath(t *testing.T) {
	h := newHarness()
	h.eval.scores["see"] = 92
	ctx := context.Background()

	h.ctrl.Select(model.LevelPhonemes, seePhoneme)
	if err := h.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s := h.ctrl.Snapshot(); s.State != StateRecording {
		t.Fatalf("state = %s", s.State)
	}
	h.device.say("take")

	if err := h.ctrl.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	<-h.eval.started
	s := h.ctrl.Snapshot()
	if s.State != StateEvaluating || s.Message != LoadingMessage {
		t.Errorf("evaluating snapshot = %+v", s)
	}
	if err := h.ctrl.Start(ctx); !errors.Is(err, errors.ErrConflict) {
		t.Errorf("Start() while evaluating err = %v", err)
	}

	close(h.eval.gate)
	h.ctrl.Wait()

	s = h.ctrl.Snapshot()
	if s.State != StateScored || s.Result == nil || s.Result.Overall != 92 || s.Band != model.BandExcellent {
		t.Errorf("scored snapshot = %+v", s)
	}
	req := h.eval.requests[0]
	if req.ReferenceText != "see" || req.IPA != "/iː/" || req.AudioMimeType != "audio/webm" || req.AudioBase64 != "dGFrZQ==" {
		t.Errorf("request = %+v", req)
	}

	h.ctrl.Retry()
	if s := h.ctrl.Snapshot(); s.State != StateIdle || s.Result != nil {
		t.Errorf("after Retry = %+v", s)
	}
}

func TestController_StaleResultDiscarded(t *testing.T) {
	h := newHarness()
	h.eval.scores["see"] = 40
	h.eval.scores["apple"] = 88
	ctx := context.Background()

	h.ctrl.Select(model.LevelPhonemes, seePhoneme)
	h.ctrl.Start(ctx)
	h.device.say("a")
	h.ctrl.Stop(ctx)
	<-h.eval.started

	// Move to B while A is still being evaluated.
	h.ctrl.Select(model.LevelWords, appleWord)
	close(h.eval.gate)
	h.ctrl.Wait()

	s := h.ctrl.Snapshot()
	if s.State != StateIdle || s.Result != nil {
		t.Fatalf("stale result shown: %+v", s)
	}
	if s.Item == nil || s.Item.Text != "apple" {
		t.Errorf("item = %+v", s.Item)
	}

	h.ctrl.Start(ctx)
	h.device.say("b")
	h.ctrl.Stop(ctx)
	h.ctrl.Wait()
	if s := h.ctrl.Snapshot(); s.State != StateScored || s.Result.Overall != 88 {
		t.Errorf("item B snapshot = %+v", s)
	}
}

func TestController_SelectReleasesCapture(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	h.ctrl.Select(model.LevelWords, appleWord)
	h.ctrl.Start(ctx)
	h.ctrl.Select(model.LevelWords, appleWord)

	if h.recorder.IsRecording() {
		t.Error("capture not released on item switch")
	}
	if err := h.ctrl.Start(ctx); err != nil {
		t.Errorf("Start() after switch error = %v", err)
	}
	h.ctrl.Close()
}

func TestController_AlreadyRecording(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.ctrl.Select(model.LevelWords, appleWord)
	h.ctrl.Start(ctx)

	if err := h.ctrl.Start(ctx); !errors.Is(err, errors.ErrAlreadyRecording) {
		t.Errorf("err = %v", err)
	}
	if s := h.ctrl.Snapshot(); s.State != StateRecording {
		t.Errorf("state = %s", s.State)
	}
	h.ctrl.Close()
}

func TestController_EmptyTake(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.ctrl.Select(model.LevelWords, appleWord)
	if err := h.ctrl.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if err := h.ctrl.Stop(ctx); !errors.Is(err, errors.ErrEmptyRecording) {
		t.Fatalf("Stop() err = %v", err)
	}
	s := h.ctrl.Snapshot()
	if s.State != StateFailed || s.Message != "没有录到声音，请重试。" {
		t.Errorf("snapshot = %s %q", s.State, s.Message)
	}
	if len(h.eval.requests) != 0 {
		t.Errorf("empty take was sent for evaluation")
	}
	h.ctrl.Close()
}

func TestController_StopWithoutStart(t *testing.T) {
	h := newHarness()
	h.ctrl.Select(model.LevelWords, appleWord)
	if err := h.ctrl.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if len(h.eval.requests) != 0 {
		t.Error("evaluation triggered without a recording")
	}
}

func TestController_Failures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"timeout", errors.VendorTimeout("xunfei", nil), "超时"},
		{"vendor error", errors.VendorError("xunfei", "音频质量过低"), "音频质量过低"},
		{"dropped", errors.ConnectionDropped("xunfei", nil), "中断"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.eval.err = tt.err
			close(h.eval.gate)
			ctx := context.Background()

			h.ctrl.Select(model.LevelWords, appleWord)
			h.ctrl.Start(ctx)
			h.device.say("x")
			h.ctrl.Stop(ctx)
			h.ctrl.Wait()

			s := h.ctrl.Snapshot()
			if s.State != StateFailed || !strings.Contains(s.Message, tt.want) {
				t.Errorf("snapshot = %+v", s)
			}
		})
	}
}

func TestController_DeviceUnavailable(t *testing.T) {
	h := newHarness()
	h.device.err = io.ErrUnexpectedEOF
	h.ctrl.Select(model.LevelWords, appleWord)

	err := h.ctrl.Start(context.Background())
	if !errors.Is(err, errors.ErrDeviceUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if s := h.ctrl.Snapshot(); s.State != StateFailed || !strings.Contains(s.Message, "麦克风") {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestController_PlayReference(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if err := h.ctrl.PlayReference(ctx); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("no item err = %v", err)
	}

	h.ctrl.Select(model.LevelPhonemes, seePhoneme)
	h.ctrl.PlayReference(ctx)
	h.ctrl.PlayReference(ctx)
	if len(h.player.handles) != 2 || !h.player.handles[0].released || h.player.handles[1].released {
		t.Errorf("handles = %+v", h.player.handles)
	}
	if h.speaker.texts[0] != "see" {
		t.Errorf("speech text = %q", h.speaker.texts[0])
	}

	h.ctrl.Select(model.LevelWords, appleWord)
	if !h.player.handles[1].released {
		t.Error("playback not released on item switch")
	}
}

func TestController_Logout(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if u, _ := h.ctrl.CurrentUser(ctx); u == nil {
		t.Fatal("expected a user")
	}
	h.ctrl.Select(model.LevelWords, appleWord)
	h.ctrl.Start(ctx)

	if err := h.ctrl.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if h.recorder.IsRecording() {
		t.Error("capture survived logout")
	}
	if u, _ := h.ctrl.CurrentUser(ctx); u != nil {
		t.Errorf("user after logout = %+v", u)
	}
}

func TestMessage(t *testing.T) {
	if Message(nil) != "" {
		t.Error("nil error produced a message")
	}
	if got := Message(io.EOF); got != "发生未知错误，请稍后再试。" {
		t.Errorf("plain error message = %q", got)
	}
	if got := Message(errors.Validation("请输入6位数字验证码。")); got != "请输入6位数字验证码。" {
		t.Errorf("validation message = %q", got)
	}
}
