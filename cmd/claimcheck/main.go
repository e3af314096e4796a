// Command claimcheck decodes MZ301 dental claim batches (and practice .xlsx
// exports), checks batch integrity and reports claim lines that violate the
// declaration rule catalog.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gyeh/claimcheck/internal/claims"
	"github.com/gyeh/claimcheck/internal/cloud"
	"github.com/gyeh/claimcheck/internal/config"
	"github.com/gyeh/claimcheck/internal/insurer"
	"github.com/gyeh/claimcheck/internal/logging"
	"github.com/gyeh/claimcheck/internal/metrics"
	"github.com/gyeh/claimcheck/internal/output"
	"github.com/gyeh/claimcheck/internal/progress"
	"github.com/gyeh/claimcheck/internal/rules"
	"github.com/gyeh/claimcheck/internal/source"
	"github.com/gyeh/claimcheck/internal/worker"
)

// errFindings signals a clean run that flagged claim lines under
// --fail-on-findings.
var errFindings = errors.New("rules reported findings")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, errFindings) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// app carries settings shared by all subcommands. cfg and logger are set
// in PersistentPreRunE.
type app struct {
	configPath  string
	verbose     bool
	rulesPath   string
	enable      []string
	disable     []string
	insurers    string
	workers     int
	ruleWorkers int

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "claimcheck",
		Short:        "Check MZ301 dental claim batches against declaration rules",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "claimcheck.yaml", "Configuration file (missing file uses defaults)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&a.rulesPath, "rules", "", "Rule catalog YAML (default: built-in catalog)")
	pf.StringSliceVar(&a.enable, "enable", nil, "Rule names to enable (comma-separated)")
	pf.StringSliceVar(&a.disable, "disable", nil, "Rule names to disable (comma-separated)")

	root.AddCommand(newCheckCmd(a))
	root.AddCommand(newRulesCmd(a))
	root.AddCommand(newLayoutCmd())
	return root
}

// setup loads the config file, applies flags on top and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("rules") {
		cfg.Rules.Catalog = a.rulesPath
	}
	cfg.Rules.Enable = append(cfg.Rules.Enable, a.enable...)
	cfg.Rules.Disable = append(cfg.Rules.Disable, a.disable...)
	if flags.Changed("insurers") {
		cfg.Insurers = a.insurers
	}
	if flags.Changed("workers") {
		cfg.Workers = a.workers
	}
	if flags.Changed("rule-workers") {
		cfg.RuleWorkers = a.ruleWorkers
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

// catalog loads the configured catalog and applies the enable and disable
// lists. Any invalid rule fails here, before an input is opened.
func (a *app) catalog() (*rules.Catalog, error) {
	var (
		c   *rules.Catalog
		err error
	)
	if a.cfg.Rules.Catalog == "" {
		c, err = rules.Default()
	} else {
		c, err = rules.Load(a.cfg.Rules.Catalog)
	}
	if err != nil {
		return nil, err
	}
	if err := c.Configure(a.cfg.Rules.Enable, a.cfg.Rules.Disable); err != nil {
		return nil, err
	}
	return c, nil
}

func newCheckCmd(a *app) *cobra.Command {
	var (
		inputsFile     string
		outputFile     string
		metricsFile    string
		noProgress     bool
		failOnFindings bool
	)

	cmd := &cobra.Command{
		Use:   "check [inputs...]",
		Short: "Decode, integrity-check and evaluate rules over declaration files",
		Long: `Inputs are local paths, s3://bucket/key locations or http(s) URLs.
Files ending in .gz are decompressed; .xlsx files are read as practice
exports. Every other input is read as an ISO-8859-1 MZ301 declaration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			log := a.logger
			if cmd.Flags().Changed("metrics-file") {
				cfg.MetricsFile = metricsFile
			}

			inputs := append([]string{}, args...)
			if inputsFile != "" {
				listed, err := readInputs(inputsFile)
				if err != nil {
					return fmt.Errorf("reading inputs: %w", err)
				}
				inputs = append(inputs, listed...)
			}
			if len(inputs) == 0 {
				return fmt.Errorf("no inputs specified")
			}

			// Catalog errors are configuration errors: fail before any input.
			cat, err := a.catalog()
			if err != nil {
				return fmt.Errorf("loading rules: %w", err)
			}
			enabled := cat.Enabled()
			if len(enabled) == 0 {
				return fmt.Errorf("every rule is disabled")
			}

			var lookup claims.InsurerLookup
			if cfg.Insurers != "" {
				table, err := insurer.LoadFile(cfg.Insurers)
				if err != nil {
					return fmt.Errorf("loading insurers: %w", err)
				}
				lookup = table
				log.Debug("insurer table loaded", zap.Int("codes", len(table)))
			}

			// Handle signals
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case <-sigCh:
					fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
					cancel()
				case <-ctx.Done():
				}
			}()

			opener := &source.Opener{StdGzip: cfg.StdGzip}
			var s3c *cloud.S3Client
			if needsS3(inputs, outputFile) {
				s3c, err = cloud.NewS3Client(ctx, cfg.S3.Region)
				if err != nil {
					return err
				}
				opener.S3 = s3c
			}

			var m *metrics.Metrics
			if cfg.MetricsFile != "" {
				m = metrics.New()
			}

			// Set up progress
			var mgr progress.Manager
			if noProgress || !isTerminal() {
				mgr = progress.NewLogManager()
			} else {
				mgr = progress.NewMPBManager(len(inputs))
			}

			log.Info("check started",
				zap.Int("inputs", len(inputs)),
				zap.Int("rules", len(enabled)),
				zap.Int("workers", cfg.Workers))
			startTime := time.Now()

			pool := &worker.Pool{
				Workers: cfg.Workers,
				Options: worker.Options{
					Rules:       enabled,
					Insurers:    lookup,
					RuleWorkers: cfg.RuleWorkers,
					Opener:      opener,
					Logger:      log,
					Metrics:     m,
				},
				Progress: mgr,
			}
			results := pool.Run(ctx, inputs)
			mgr.Wait()

			duration := time.Since(startTime)
			rep := output.BuildReport(results, time.Now())

			var up output.Uploader
			if s3c != nil {
				up = s3c
			}
			if err := output.WriteReport(ctx, outputFile, rep, up); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
			if m != nil {
				if err := m.WriteFile(cfg.MetricsFile); err != nil {
					log.Warn("metrics not written", zap.Error(err))
				}
			}

			stderr := cmd.ErrOrStderr()
			for _, r := range results {
				if r.Err != nil {
					fmt.Fprintf(stderr, "Error processing %s: %v\n", source.Name(r.Source), r.Err)
				}
			}
			s := rep.Summary
			fmt.Fprintf(stderr, "\nCheck complete: %d files (%d failed), %d claim lines, %d rules failed, %d findings in %.1fs\n",
				s.Files, s.Failed, s.Rows, s.RulesFailed, s.Findings, duration.Seconds())
			if outputFile != "-" {
				fmt.Fprintf(stderr, "Report written to %s\n", outputFile)
			}

			if s.Failed > 0 {
				return fmt.Errorf("%d of %d files failed", s.Failed, s.Files)
			}
			if failOnFindings && s.RulesFailed > 0 {
				return fmt.Errorf("%w: %d rules failed", errFindings, s.RulesFailed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&inputsFile, "inputs-file", "", "File listing inputs (one per line, # comments)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "report.json", "Report path, '-' for stdout, or s3://bucket/key")
	cmd.Flags().StringVar(&a.insurers, "insurers", "", "UZOVI insurer lookup CSV")
	cmd.Flags().IntVar(&a.workers, "workers", 2, "Number of files processed concurrently")
	cmd.Flags().IntVar(&a.ruleWorkers, "rule-workers", 4, "Number of rules evaluated concurrently per file")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus textfile metrics to this path")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Print periodic status lines instead of progress bars")
	cmd.Flags().BoolVar(&failOnFindings, "fail-on-findings", false, "Exit with status 2 when any rule reports claim lines")

	return cmd
}

func needsS3(inputs []string, outputFile string) bool {
	if cloud.IsURI(outputFile) {
		return true
	}
	for _, in := range inputs {
		if cloud.IsURI(in) {
			return true
		}
	}
	return false
}

// isTerminal returns true if stderr is connected to a terminal.
func isTerminal() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func readInputs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var inputs []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // signed URLs can be long
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		inputs = append(inputs, line)
	}
	return inputs, scanner.Err()
}
