package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/prethora/glowly"
	"github.com/prethora/glowly/internal/archive"
	"github.com/prethora/glowly/internal/server"
)

var errInvalidArgs = errors.New("invalid arguments")

// initializedOrchestrator fetches the orchestrator NewCommand created and
// loads its models.
func initializedOrchestrator(cmd *cobra.Command) (*glowly.Orchestrator, error) {
	o, ok := glowly.OrchestratorFromContext(cmd.Context())
	if !ok {
		return nil, errors.New("orchestrator not available")
	}
	report, err := o.Initialize(cmd.Context())
	if err != nil {
		return nil, err
	}
	if len(report.EssentialFailures()) > 0 {
		return nil, glowly.ErrNotInitialized
	}
	return o, nil
}

func serveCmd(d *deps, logger *slog.Logger) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := initializedOrchestrator(cmd)
			if err != nil {
				return err
			}

			var arch server.Archiver
			if d.archive != nil {
				arch = d.archive
			}
			h := server.NewHandler(o, arch, logger)
			return server.Run(cmd.Context(), addr, server.NewRouter(h), logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", envOr("GLOWLY_HTTP_ADDR", ":8080"), "Listen address")
	return cmd
}

func archiveCmd(d *deps) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "archive <image>...",
		Short: "Analyze images and store the results in the archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if d.archive == nil {
				return fmt.Errorf("%w: GLOWLY_ARCHIVE_DSN is not set", errInvalidArgs)
			}
			o, err := initializedOrchestrator(cmd)
			if err != nil {
				return err
			}
			quiet, _ := cmd.Flags().GetBool("quiet")

			for _, path := range args {
				img, err := glowly.DecodeImageFile(path)
				if err != nil {
					return err
				}
				res, err := o.Analyze(cmd.Context(), img)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				id, err := d.archive.Save(cmd.Context(), userID, res)
				if err != nil {
					return err
				}
				if !quiet {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d face(s)\n", id, path, len(res.Faces))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "Owner of the archived analyses")
	return cmd
}

type similarOutput struct {
	FaceIndex int             `json:"face_index"`
	Matches   []archive.Match `json:"matches"`
}

func similarCmd(d *deps) *cobra.Command {
	var (
		limit   int
		exclude string
	)

	cmd := &cobra.Command{
		Use:   "similar <image>",
		Short: "Find archived faces that look like the faces in an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if d.archive == nil {
				return fmt.Errorf("%w: GLOWLY_ARCHIVE_DSN is not set", errInvalidArgs)
			}
			o, err := initializedOrchestrator(cmd)
			if err != nil {
				return err
			}

			img, err := glowly.DecodeImageFile(args[0])
			if err != nil {
				return err
			}
			res, err := o.Analyze(cmd.Context(), img)
			if err != nil {
				return err
			}

			outputs := make([]similarOutput, 0, len(res.Faces))
			for _, face := range res.Faces {
				matches, err := d.archive.Similar(cmd.Context(), face, exclude, limit)
				if err != nil {
					return err
				}
				outputs = append(outputs, similarOutput{FaceIndex: face.Index, Matches: matches})
			}

			asJSON, _ := cmd.Flags().GetBool("json")
			return outputSimilar(cmd.OutOrStdout(), outputs, asJSON)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "Matches per face")
	cmd.Flags().StringVar(&exclude, "exclude-user", "", "Skip analyses owned by this user")
	return cmd
}

func outputSimilar(w io.Writer, outputs []similarOutput, asJSON bool) error {
	if asJSON {
		return writeJSON(w, outputs)
	}
	if len(outputs) == 0 {
		fmt.Fprintln(w, "No faces found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FACE\tANALYSIS\tUSER\tSKIN TONE\tDISTANCE")
	for _, out := range outputs {
		if len(out.Matches) == 0 {
			fmt.Fprintf(tw, "%d\t-\t-\t-\t-\n", out.FaceIndex)
			continue
		}
		for _, m := range out.Matches {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.3f\n", out.FaceIndex, shortID(m.AnalysisID), orDash(m.UserID), orDash(m.SkinTone), m.Distance)
		}
	}
	return tw.Flush()
}

type preferencesOutput struct {
	UserID   string                 `json:"user_id"`
	Weights  glowly.Preferences     `json:"weights"`
	Feedback []glowly.FeedbackEvent `json:"feedback"`
}

func preferencesCmd(d *deps) *cobra.Command {
	var (
		set   []string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "preferences <user>",
		Short: "Show or set a user's enhancement weights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			userID := args[0]

			if len(set) > 0 {
				weights, err := parseWeights(set)
				if err != nil {
					return err
				}
				if err := d.store.SetPreferences(ctx, userID, weights); err != nil {
					return err
				}
			}

			weights, err := d.store.Preferences(ctx, userID)
			if err != nil {
				return err
			}
			feedback, err := d.store.Feedback(ctx, userID, limit)
			if err != nil {
				return err
			}

			out := preferencesOutput{UserID: userID, Weights: weights, Feedback: feedback}
			asJSON, _ := cmd.Flags().GetBool("json")
			return outputPreferences(cmd.OutOrStdout(), out, asJSON)
		},
	}

	cmd.Flags().StringArrayVar(&set, "set", nil, "Set a weight as <enhancement>=<weight>; repeatable, replaces all weights")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Recent feedback events to show")
	return cmd
}

// parseWeights parses <enhancement>=<weight> pairs.
func parseWeights(pairs []string) (glowly.Preferences, error) {
	out := glowly.Preferences{}
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q is not <enhancement>=<weight>", errInvalidArgs, p)
		}
		t, err := glowly.ParseEnhancementType(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidArgs, err)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || w <= 0 {
			return nil, fmt.Errorf("%w: weight for %s must be a positive number", errInvalidArgs, t)
		}
		out[t] = w
	}
	return out, nil
}

func outputPreferences(w io.Writer, out preferencesOutput, asJSON bool) error {
	if asJSON {
		return writeJSON(w, out)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENHANCEMENT\tWEIGHT")
	types := make([]string, 0, len(glowly.AllEnhancementTypes))
	for _, t := range glowly.AllEnhancementTypes {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(tw, "%s\t%.2f\n", t, out.Weights.Weight(glowly.EnhancementType(t)))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(out.Feedback) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORDED\tENHANCEMENT\tSATISFACTION\tREUSE")
	for _, ev := range out.Feedback {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%t\n", ev.RecordedAt.Format("2006-01-02 15:04"), ev.Enhancement, ev.Satisfaction, ev.WouldReuse)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
