package main

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/windfall/pronunciation_service/internal/audio"
	"github.com/windfall/pronunciation_service/internal/logger"
	"github.com/windfall/pronunciation_service/internal/model"
	"github.com/windfall/pronunciation_service/internal/practice"
)

var (
	practiceFile     string
	practiceInput    string
	practiceDuration time.Duration
	practiceCategory string
	practicePlay     bool
	playerCommand    string
	verbose          bool
)

const defaultPlayer = "ffplay -nodisp -autoexit -loglevel quiet"

func newPracticeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "practice LEVEL INDEX",
		Short: "Record one item and show its score",
		Long: `Record the item at INDEX (see "coach items LEVEL") and send it for evaluation.
Without --file the default microphone is recorded through ffmpeg until Enter
is pressed or --duration elapses.`,
		Args: cobra.ExactArgs(2),
		RunE: runPracticeCmd,
	}
	cmd.Flags().StringVar(&practiceFile, "file", "", "evaluate an existing recording instead of the microphone")
	cmd.Flags().StringVar(&practiceInput, "input", "default", "ffmpeg input device (\":0\" for macOS avfoundation)")
	cmd.Flags().DurationVar(&practiceDuration, "duration", 10*time.Second, "maximum recording length")
	cmd.Flags().StringVar(&practiceCategory, "category", "", "phoneme category title")
	cmd.Flags().BoolVar(&practicePlay, "play", false, "play the reference audio before recording")
	cmd.Flags().StringVar(&playerCommand, "player", defaultPlayer, "command used to play reference audio")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func newPlayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play LEVEL INDEX",
		Short: "Play the reference audio of an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, item, err := selectItem(args, practiceCategory)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			ctrl, err := newController(cmd, audio.NewRecorder(nil))
			if err != nil {
				return err
			}
			defer ctrl.Close()

			ctrl.Select(level, item)
			if err := ctrl.PlayReference(ctx); err != nil {
				return userError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "正在播放，按 Enter 停止。")
			waitForEnter(ctx, cmd.InOrStdin(), practiceDuration)
			return nil
		},
	}
	cmd.Flags().StringVar(&practiceCategory, "category", "", "phoneme category title")
	cmd.Flags().StringVar(&playerCommand, "player", defaultPlayer, "command used to play reference audio")
	cmd.Flags().DurationVar(&practiceDuration, "duration", 10*time.Second, "stop playback after this long")
	return cmd
}

func newController(cmd *cobra.Command, capture practice.Capture) (*practice.Controller, error) {
	c, err := newClient()
	if err != nil {
		return nil, err
	}
	level := "warn"
	if verbose {
		level = "debug"
	}
	log := logger.NewTo(cmd.ErrOrStderr(), level, "console")

	var player audio.FilePlayer
	if fields := strings.Fields(playerCommand); len(fields) > 0 {
		player.Command = fields[0]
		player.Args = fields[1:]
	}

	return practice.NewController(practice.Deps{
		Capture:   capture,
		Evaluator: c,
		Speaker:   c,
		Player:    &player,
		Sessions:  c,
		Log:       logger.Component(log, "practice"),
	}), nil
}

func runPracticeCmd(cmd *cobra.Command, args []string) error {
	level, item, err := selectItem(args, practiceCategory)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	var device audio.Device = audio.FFmpegMicrophone(practiceInput)
	if practiceFile != "" {
		device = &audio.FileDevice{Path: practiceFile}
	}

	ctrl, err := newController(cmd, audio.NewRecorder(device))
	if err != nil {
		return err
	}
	defer ctrl.Close()

	user, err := ctrl.CurrentUser(ctx)
	if err != nil {
		return userError(err)
	}
	if user == nil {
		return stderrors.New("请先运行 coach login 登录。")
	}

	out := cmd.OutOrStdout()
	ctrl.Select(level, item)
	fmt.Fprintf(out, "练习: %s", item.Text)
	if item.IPA != "" && item.IPA != item.Text {
		fmt.Fprintf(out, "  %s", item.IPA)
	}
	fmt.Fprintf(out, "\n请朗读: %s\n", item.ReferenceText(level))

	if practicePlay {
		if err := ctrl.PlayReference(ctx); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), practice.Message(err))
		}
	}

	if err := ctrl.Start(ctx); err != nil {
		return userError(err)
	}
	if practiceFile == "" {
		fmt.Fprintln(out, "录音中... 按 Enter 结束。")
		waitForEnter(ctx, cmd.InOrStdin(), practiceDuration)
	}
	if err := ctrl.Stop(ctx); err != nil {
		return userError(err)
	}

	if s := ctrl.Snapshot(); s.State == practice.StateEvaluating {
		fmt.Fprintln(out, s.Message)
	}
	ctrl.Wait()

	s := ctrl.Snapshot()
	switch s.State {
	case practice.StateScored:
		printResult(out, s)
		return nil
	case practice.StateFailed:
		return fmt.Errorf("%s", s.Message)
	default:
		return stderrors.New("没有录到声音，请重试。")
	}
}

var bandLabels = map[model.Band]string{
	model.BandExcellent:     "优秀",
	model.BandGood:          "良好",
	model.BandNeedsPractice: "需要练习",
}

func printResult(out io.Writer, s practice.Snapshot) {
	r := s.Result
	fmt.Fprintf(out, "\n得分: %.0f  (%s)\n", r.Overall, bandLabels[s.Band])
	if r.Kind == model.KindDetailed {
		fmt.Fprintf(out, "准确度 %.0f  完整度 %.0f  流利度 %.0f\n", r.Pronunciation, r.Integrity, r.Fluency)
		for _, w := range r.Words {
			var phonemes []string
			for _, p := range w.Phonemes {
				phonemes = append(phonemes, fmt.Sprintf("%s:%.0f", p.Phoneme, p.Pronunciation))
			}
			fmt.Fprintf(out, "  %-12s %s\n", w.Word, strings.Join(phonemes, " "))
		}
	}
	if r.Feedback != "" {
		fmt.Fprintf(out, "反馈: %s\n", r.Feedback)
	}
}

// waitForEnter returns on a newline from in, after limit, or when ctx ends.
func waitForEnter(ctx context.Context, in io.Reader, limit time.Duration) {
	if in == nil {
		in = os.Stdin
	}
	line := make(chan struct{})
	go func() {
		bufio.NewReader(in).ReadString('\n')
		close(line)
	}()

	timer := time.NewTimer(limit)
	defer timer.Stop()
	select {
	case <-line:
	case <-timer.C:
	case <-ctx.Done():
	}
}
