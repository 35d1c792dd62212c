package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"icalfeed/ics"
	appLog "icalfeed/internal/log"
	"icalfeed/internal/model"
)

// inputOptions are shared by the commands that read one calendar.
type inputOptions struct {
	chunkSize int
	timezone  string
	cacheDir  string
}

func addInputFlags(cmd *cobra.Command, o *inputOptions) {
	cmd.Flags().IntVar(&o.chunkSize, "chunk-size", ics.DefaultChunkSize, "Lines parsed per step before yielding")
	cmd.Flags().StringVar(&o.timezone, "tz", "", "IANA zone for floating times and output (default: host zone)")
	cmd.Flags().StringVar(&o.cacheDir, "cache-dir", "", "ETag cache directory for URL sources (default: no cache)")
}

func (o inputOptions) location() (*time.Location, error) {
	if o.timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(o.timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", o.timezone, err)
	}
	return loc, nil
}

func isRemote(arg string) bool {
	for _, scheme := range []string{"http://", "https://", "webcal://"} {
		if strings.HasPrefix(strings.ToLower(arg), scheme) {
			return true
		}
	}
	return false
}

// load parses arg, which is a file path, a URL or "-" for stdin.
func (o inputOptions) load(ctx context.Context, cmd *cobra.Command, arg string) (ics.Result, error) {
	loc, err := o.location()
	if err != nil {
		return ics.Result{}, err
	}
	opts := []ics.Option{ics.WithChunkSize(o.chunkSize), ics.WithLocation(loc)}

	var ch <-chan ics.Result
	switch {
	case arg == "-":
		body, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return ics.Result{}, err
		}
		ch = ics.ParseICSAsync(ctx, string(body), opts...)
	case isRemote(arg) && o.cacheDir != "":
		res, err := ics.NewFetcher(o.cacheDir).FetchOne(ctx, ics.Source{ID: arg, URL: arg})
		if err != nil {
			return ics.Result{}, err
		}
		ch = ics.ParseICSAsync(ctx, string(res.Body), opts...)
	case isRemote(arg):
		ch = ics.FromURLAsync(ctx, arg, opts...)
	default:
		ch = ics.ParseFileAsync(ctx, arg, opts...)
	}

	res := <-ch
	if res.Err != nil {
		return res, res.Err
	}
	appLog.Debug("parsed calendar",
		"input", arg,
		"components", len(res.Calendar),
		"lines", res.Stats.Lines,
		"skipped", res.Stats.Skipped,
		"rule_errors", res.Stats.RuleErrors,
	)
	return res, nil
}

func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
}

func newParseCmd() *cobra.Command {
	var (
		in     inputOptions
		format string
		stats  bool
	)

	cmd := &cobra.Command{
		Use:   "parse <file|url|->",
		Short: "Parse a calendar and print the component mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := in.load(cmd.Context(), cmd, args[0])
			if err != nil {
				return err
			}
			if stats {
				return writeOutput(cmd.OutOrStdout(), format, res.Stats)
			}
			return writeOutput(cmd.OutOrStdout(), format, res.Calendar)
		},
	}
	addInputFlags(cmd, &in)
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or yaml")
	cmd.Flags().BoolVar(&stats, "stats", false, "Print parse statistics instead of the mapping")
	return cmd
}

func newGenerateCmd() *cobra.Command {
	var (
		in     inputOptions
		strict bool
	)

	cmd := &cobra.Command{
		Use:   "generate <file|url|->",
		Short: "Parse a calendar and write it back as iCalendar text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := in.load(cmd.Context(), cmd, args[0])
			if err != nil {
				return err
			}
			out := ics.GenerateCalendar(res.Calendar)
			if strict {
				out = ics.GenerateStrict(res.Calendar)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), out)
			return err
		},
	}
	addInputFlags(cmd, &in)
	cmd.Flags().BoolVar(&strict, "strict", false, "Fold and escape lines per RFC 5545")
	return cmd
}

func newExpandCmd() *cobra.Command {
	var (
		in     inputOptions
		format string
		from   string
		days   int
		maxOcc int
	)

	cmd := &cobra.Command{
		Use:   "expand <file|url|->",
		Short: "List event occurrences within a date window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := in.location()
			if err != nil {
				return err
			}
			start := time.Now().In(loc)
			if from != "" {
				start, err = time.ParseInLocation("2006-01-02", from, loc)
				if err != nil {
					return fmt.Errorf("--from: %w", err)
				}
			}

			res, err := in.load(cmd.Context(), cmd, args[0])
			if err != nil {
				return err
			}
			exp, err := ics.ExpandOccurrences(res.Calendar, ics.ExpandConfig{
				DisplayLocation:        loc,
				RangeStart:             start,
				RangeEnd:               start.AddDate(0, 0, days),
				MaxOccurrencesPerEvent: maxOcc,
			})
			if err != nil {
				return err
			}

			source := args[0]
			if !isRemote(source) && source != "-" {
				source = filepath.Base(source)
			}
			out := make([]model.Occurrence, 0, len(exp.Occurrences))
			for _, o := range exp.Occurrences {
				out = append(out, model.NewOccurrence(source, o))
			}
			return writeOutput(cmd.OutOrStdout(), format, out)
		},
	}
	addInputFlags(cmd, &in)
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or yaml")
	cmd.Flags().StringVar(&from, "from", "", "First day of the window, YYYY-MM-DD (default: now)")
	cmd.Flags().IntVar(&days, "days", 7, "Length of the window in days")
	cmd.Flags().IntVar(&maxOcc, "max", 0, "Per-event occurrence cap (default 5000)")
	return cmd
}
