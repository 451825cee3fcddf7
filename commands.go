package glowly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type orchestratorKey struct{}

// OrchestratorFromContext returns the orchestrator NewCommand created for
// the running command. Subcommands added by a parent CLI use it.
func OrchestratorFromContext(ctx context.Context) (*Orchestrator, bool) {
	o, ok := ctx.Value(orchestratorKey{}).(*Orchestrator)
	return o, ok && o != nil
}

// NewCommand creates a Cobra command tree for face analysis.
// opts must include WithDetector.
//
// Commands provided:
//   - models
//   - analyze <image>... [--user <id>]
//   - track <dir> [--fps <n>]
//   - feedback <user> <enhancement> <satisfaction> [--reuse]
//   - config
//
// Global flags: --json, --quiet, --verbose, --config
func NewCommand(cfg Config, opts ...Option) *cobra.Command {
	var (
		jsonOutput bool
		quiet      bool
		verbose    bool
		configPath string
	)

	// Orchestrator will be created in PersistentPreRunE
	var orch *Orchestrator

	cmd := &cobra.Command{
		Use:   "glowly",
		Short: "Analyze faces and recommend enhancements",
		Long:  "Run on-device face analysis, real-time tracking and personalized enhancement recommendations.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				loaded, err := LoadConfig(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			// Skip orchestrator creation for commands that do not need it
			switch cmd.Name() {
			case "help", "completion", "config":
				return nil
			}

			var err error
			orch, err = New(append([]Option{WithConfig(cfg)}, opts...)...)
			if err != nil {
				return fmt.Errorf("failed to initialize orchestrator: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), orchestratorKey{}, orch))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if orch == nil {
				return nil
			}
			return orch.Close()
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML configuration file")

	cmd.AddCommand(modelsCmd(&orch, &jsonOutput, &verbose))
	cmd.AddCommand(analyzeCmd(&orch, &jsonOutput, &quiet, &verbose))
	cmd.AddCommand(trackCmd(&orch, &jsonOutput, &quiet))
	cmd.AddCommand(feedbackCmd(&orch, &quiet))
	cmd.AddCommand(configCmd(&cfg))

	return cmd
}

// modelStatus is one row of the models command.
type modelStatus struct {
	Type           ModelType     `json:"type"`
	Priority       int           `json:"priority"`
	Essential      bool          `json:"essential"`
	Loaded         bool          `json:"loaded"`
	Placeholder    bool          `json:"placeholder,omitempty"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration"`
	MemoryEstimate int64         `json:"memory_estimate"`
}

func modelsCmd(orch **Orchestrator, jsonOutput, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Load every model and report the outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o := *orch
			report, err := o.Initialize(cmd.Context())
			if err != nil {
				return err
			}

			statuses := make([]modelStatus, 0, len(report.Results))
			for _, res := range report.Results {
				desc, _ := o.Registry().Catalog().Lookup(res.Type)
				st := modelStatus{
					Type:           res.Type,
					Priority:       desc.Priority,
					Essential:      res.Essential,
					Loaded:         res.Err == nil,
					Duration:       res.Duration,
					MemoryEstimate: desc.EstimatedMemory,
				}
				if res.Err != nil {
					st.Error = res.Err.Error()
					var le *LoadError
					st.Placeholder = errors.As(res.Err, &le) && le.IsPlaceholder()
				}
				statuses = append(statuses, st)
			}
			return outputModelStatuses(cmd.OutOrStdout(), statuses, *jsonOutput, *verbose)
		},
	}
}

// analysisOutput is one image's entry in the analyze command output.
type analysisOutput struct {
	Result         *AnalysisResult `json:"result"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
}

func analyzeCmd(orch **Orchestrator, jsonOutput, quiet, verbose *bool) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "analyze <image>...",
		Short: "Analyze still images",
		Long:  "Analyze one or more JPEG or PNG images. Images that fail are skipped when more than one is given.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o := *orch

			imgs := make([]image.Image, 0, len(args))
			for _, path := range args {
				img, err := DecodeImageFile(path)
				if err != nil {
					if len(args) == 1 {
						return err
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "Skipping %s: %v\n", path, err)
					continue
				}
				imgs = append(imgs, img)
			}

			if _, err := o.Initialize(ctx); err != nil {
				return err
			}

			var results []*AnalysisResult
			if len(imgs) == 1 {
				res, err := o.Analyze(ctx, imgs[0])
				if err != nil {
					return err
				}
				results = []*AnalysisResult{res}
			} else {
				results = o.BatchAnalyze(ctx, imgs)
				if len(results) == 0 {
					return fmt.Errorf("%w: no image could be analyzed", ErrUnsuitableInput)
				}
			}

			outputs := make([]analysisOutput, len(results))
			for i, res := range results {
				outputs[i].Result = res
				if userID == "" {
					continue
				}
				rec, err := o.Recommend(ctx, userID, res)
				if err != nil {
					return err
				}
				outputs[i].Recommendation = &rec
			}

			if !*quiet && !*jsonOutput && len(args) > 1 {
				fmt.Fprintf(cmd.OutOrStdout(), "Analyzed %d of %d images\n\n", len(results), len(args))
			}
			return outputAnalyses(cmd.OutOrStdout(), outputs, *jsonOutput, *verbose)
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "Personalize recommendations for this user")
	return cmd
}

func trackCmd(orch **Orchestrator, jsonOutput, quiet *bool) *cobra.Command {
	var fps float64

	cmd := &cobra.Command{
		Use:   "track <dir>",
		Short: "Track faces across a directory of frames",
		Long:  "Feed the JPEG or PNG files in a directory, in name order, to the real-time tracker.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o := *orch
			if fps <= 0 {
				return fmt.Errorf("--fps must be positive")
			}

			paths, err := framePaths(args[0])
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("%w: no frames in %s", ErrUnsuitableInput, args[0])
			}

			frames := make(chan Frame)
			if err := o.StartRealTime(ctx, frames); err != nil {
				return err
			}
			defer o.StopRealTime()

			interval := time.Duration(float64(time.Second) / fps)
			start := time.Now()
			for i, path := range paths {
				img, err := DecodeImageFile(path)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Skipping %s: %v\n", path, err)
					continue
				}
				before := o.Tracker().Processed()
				select {
				case frames <- Frame{Seq: uint64(i), Timestamp: start.Add(time.Duration(i) * interval), Image: img}:
				case <-ctx.Done():
					return ctx.Err()
				}
				if err := waitProcessed(ctx, o.Tracker(), before+1); err != nil {
					return err
				}
			}
			o.StopRealTime()

			tracks := o.Tracker().Tracks()
			if *jsonOutput {
				return writeJSON(cmd.OutOrStdout(), tracks)
			}
			if !*quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Processed %d frames, %d track(s)\n", o.Tracker().Processed(), len(tracks))
			}
			return outputTracks(cmd.OutOrStdout(), tracks, o.Tracker().HasWellPositionedFace())
		},
	}

	cmd.Flags().Float64Var(&fps, "fps", 10, "Frame rate used to timestamp the frames")
	return cmd
}

// waitProcessed blocks until the tracker has handled n frames. The track
// command feeds frames one at a time so none are dropped.
func waitProcessed(ctx context.Context, t *Tracker, n int64) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for t.Processed() < n {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func feedbackCmd(orch **Orchestrator, quiet *bool) *cobra.Command {
	var reuse bool

	cmd := &cobra.Command{
		Use:   "feedback <user> <enhancement> <satisfaction>",
		Short: "Record a user's reaction to an enhancement",
		Long:  "Record feedback for an applied enhancement. Satisfaction is between 0 and 1.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			enh, err := ParseEnhancementType(args[1])
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidFeedback, err)
			}
			sat, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("%w: satisfaction %q is not a number", ErrInvalidFeedback, args[2])
			}

			ev := FeedbackEvent{Enhancement: enh, Satisfaction: sat, WouldReuse: reuse}
			if err := (*orch).RecordFeedback(cmd.Context(), args[0], ev); err != nil {
				return err
			}
			if !*quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s feedback for %s\n", enh, args[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&reuse, "reuse", false, "The user would apply the enhancement again")
	return cmd
}

func configCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

// DecodeImageFile reads a JPEG or PNG image. Unreadable or undecodable
// files are reported as ErrUnsuitableInput.
func DecodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsuitableInput, err)
	}
	defer f.Close()

	img, err := DecodeImage(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// DecodeImage decodes a PNG or JPEG stream. Failures wrap
// ErrUnsuitableInput.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding image: %v", ErrUnsuitableInput, err)
	}
	return img, nil
}

// framePaths lists image files in dir in name order.
func framePaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputModelStatuses(w io.Writer, statuses []modelStatus, asJSON, verbose bool) error {
	if asJSON {
		return writeJSON(w, statuses)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tPRIORITY\tESSENTIAL\tSTATUS\tMEMORY\tTIME")
	for _, s := range statuses {
		status := "loaded"
		switch {
		case s.Placeholder:
			status = "placeholder"
		case !s.Loaded:
			status = "failed"
		}
		fmt.Fprintf(tw, "%s\t%d\t%t\t%s\t%s\t%s\n",
			s.Type, s.Priority, s.Essential, status, formatSize(s.MemoryEstimate), formatDuration(s.Duration))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if verbose {
		for _, s := range statuses {
			if s.Error != "" && !s.Placeholder {
				fmt.Fprintf(w, "\n%s: %s", s.Type, s.Error)
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}

func outputAnalyses(w io.Writer, outputs []analysisOutput, asJSON, verbose bool) error {
	if asJSON {
		return writeJSON(w, outputs)
	}

	for i, out := range outputs {
		if i > 0 {
			fmt.Fprintln(w)
		}
		res := out.Result
		fmt.Fprintf(w, "Image:        %dx%d (quality %.2f)\n", res.ImageQuality.Width, res.ImageQuality.Height, res.ImageQuality.Score)
		fmt.Fprintf(w, "Scene:        %s (lighting %.2f)\n", res.Scene.Label, res.Scene.Lighting)
		fmt.Fprintf(w, "Faces:        %d\n", len(res.Faces))
		fmt.Fprintf(w, "Confidence:   %.2f\n", res.OverallConfidence)

		for _, f := range res.Faces {
			fmt.Fprintf(w, "  Face %d: box %v, confidence %.2f, quality %.2f", f.Index, f.PixelBox, f.Confidence, f.Quality.Overall)
			if f.SkinTone != nil {
				fmt.Fprintf(w, ", skin %s/%s", f.SkinTone.Category, f.SkinTone.Undertone)
			}
			fmt.Fprintln(w)
		}

		if out.Recommendation != nil {
			fmt.Fprintf(w, "Beauty score: %.1f\n", out.Recommendation.BeautyScore)
			for _, s := range out.Recommendation.Suggestions {
				fmt.Fprintf(w, "  %-20s face %d  score %.2f  intensity %.2f\n", s.Type, s.FaceIndex, s.Score, s.RecommendedIntensity)
			}
			continue
		}
		for _, op := range res.Opportunities {
			fmt.Fprintf(w, "  %-20s face %d  confidence %.2f  intensity %.2f\n", op.Type, op.FaceIndex, op.Confidence, op.RecommendedIntensity)
			if verbose {
				fmt.Fprintf(w, "    %s\n", op.Rationale)
			}
		}
	}
	return nil
}

func outputTracks(w io.Writer, tracks []FaceTrack, wellPositioned bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TRACK\tFRAMES\tMISSES\tSTABILITY\tBOX")
	for _, t := range tracks {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%v\n", t.ID[:8], t.Frames, t.Misses, t.Stability, t.Observation.PixelBox)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "Well-positioned face: %t\n", wellPositioned)
	return nil
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatDuration formats a load time compactly (e.g. "850µs", "12ms", "1.5s").
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(100 * time.Millisecond).String()
	}
}
