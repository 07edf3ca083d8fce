package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/customer-engine/pkg/types"
)

const defaultPollInterval = 500 * time.Millisecond

var discoverCmd = &cobra.Command{
	Use:   "discover <subject>",
	Short: "Run one discovery job and print its results",
	Long: `Discover submits a job for the named subject company, polls its status
while the sources, aggregation and analysis stages run, and prints the
final results as a table, JSON or YAML. Progress lines go to stderr.

The exit status is non-zero when the job fails.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().Int("max-results", 0, "maximum number of results (default 20)")
	discoverCmd.Flags().String("format", "table", "output format: table, json, yaml")
	discoverCmd.Flags().String("tiers", "", "validation tiers, e.g. structure,dns,http (default structure,dns)")
	discoverCmd.Flags().Duration("interval", defaultPollInterval, "status polling interval")
	discoverCmd.Flags().Bool("quiet", false, "do not print progress lines")

	viper.BindPFlag("validator.tiers", discoverCmd.Flags().Lookup("tiers"))

	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	subject := strings.Join(args, " ")
	maxResults, _ := cmd.Flags().GetInt("max-results")
	format, _ := cmd.Flags().GetString("format")
	interval, _ := cmd.Flags().GetDuration("interval")
	quiet, _ := cmd.Flags().GetBool("quiet")
	if interval <= 0 {
		interval = defaultPollInterval
	}
	switch format {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unknown format %q (want table, json or yaml)", format)
	}

	cfg, err := loadConfig(viper.GetViper(), loadedSecrets)
	if err != nil {
		return err
	}
	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workers, cancel := context.WithCancel(ctx)
	eng.orch.Start(workers)
	defer func() {
		cancel()
		eng.orch.Wait()
	}()

	id, err := eng.orch.Submit(ctx, subject, maxResults)
	if err != nil {
		return err
	}

	var progress io.Writer = os.Stderr
	if quiet {
		progress = io.Discard
	}
	report, err := poll(ctx, eng.orch, id, interval, progress)
	if err != nil {
		return err
	}

	if err := writeReport(os.Stdout, report, format); err != nil {
		return err
	}
	if report.Status == types.StatusFailed {
		msg := "job failed"
		if report.Error != nil {
			msg = fmt.Sprintf("job failed in %s: %s", report.Error.Stage, report.Error.Message)
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}

// statusGetter is the part of the orchestrator poll needs.
type statusGetter interface {
	GetStatus(ctx context.Context, id string) (types.StatusReport, error)
}

// poll reads the job status every interval until it is terminal, printing a
// line whenever percent or message changes.
func poll(ctx context.Context, jobs statusGetter, id string, interval time.Duration, w io.Writer) (types.StatusReport, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := types.Progress{Percent: -1}
	for {
		report, err := jobs.GetStatus(ctx, id)
		if err != nil {
			return report, fmt.Errorf("polling job %s: %w", id, err)
		}
		if report.Progress != last {
			fmt.Fprintf(w, "[%3d%%] %s\n", report.Progress.Percent, report.Progress.Message)
			last = report.Progress
		}
		if report.Status.IsTerminal() {
			return report, nil
		}
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-ticker.C:
		}
	}
}

// writeReport prints report in the given format.
func writeReport(w io.Writer, report types.StatusReport, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	}

	fmt.Fprintf(w, "Subject: %s\nStatus:  %s\nResults: %d\n\n", report.SubjectName, report.Status, len(report.Results))
	if len(report.Results) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tURL\tSOURCE\tCONFIDENCE\tVALID")
	for _, r := range report.Results {
		conf := "-"
		if r.Confidence != nil {
			conf = fmt.Sprintf("%.2f", *r.Confidence)
		}
		url := r.CandidateURL
		if url == "" {
			url = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", r.CandidateName, url, r.Source, conf, r.Validation.IsValid())
	}
	return tw.Flush()
}
