package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/davidvella/kmerge"
	"github.com/davidvella/kmerge/config"
	"github.com/davidvella/kmerge/generate"
	"github.com/davidvella/kmerge/manifest"
	"github.com/davidvella/kmerge/merge"
	"github.com/davidvella/kmerge/monitoring"
	"github.com/davidvella/kmerge/storage/local"
	"github.com/davidvella/kmerge/verify"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func runMerge(ctx context.Context, args []string, stdout io.Writer, getenv func(string) string) error {
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	var (
		configPath  = fs.String("config", "", "TOML config file")
		sourceDir   = fs.String("source-dir", "", "directory of sorted runs")
		output      = fs.String("output", "", "path of the merged output")
		appendOut   = fs.Bool("append", false, "append to the output instead of replacing it")
		checkOrder  = fs.Bool("check-order", true, "fail on a source whose values decrease")
		selector    = fs.String("selector", "", "minimum selection: linear or heap")
		bufferSize  = fs.Int("buffer-size", 0, "read and write buffer size in bytes")
		manifestDir = fs.String("manifest", "", "directory of the run ledger")
		logLevel    = fs.String("log-level", "", "log level")
		metrics     = fs.Bool("metrics", false, "print merge metrics after the run")
	)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: kmerge merge [flags] [source ...]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return parseError(err)
	}

	cfg, err := loadConfig(*configPath, getenv)
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source-dir":
			cfg.SourceDir = *sourceDir
		case "output":
			cfg.Output = *output
		case "append":
			cfg.Truncate = !*appendOut
		case "check-order":
			cfg.CheckOrder = *checkOrder
		case "selector":
			cfg.Selector = *selector
		case "buffer-size":
			cfg.BufferSize = *bufferSize
		case "manifest":
			cfg.ManifestDir = *manifestDir
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if fs.NArg() > 0 {
		cfg.Sources = fs.Args()
	}
	if err := cfg.Validate(); err != nil {
		return errors.WithStack(err)
	}

	logger := setupLogger(cfg.LogLevel)
	sel, _ := merge.ParseSelector(cfg.Selector)

	reg := prometheus.NewRegistry()
	stats, err := monitoring.NewStats(reg)
	if err != nil {
		return errors.Wrap(err, "register metrics")
	}

	opts := []kmerge.Option{
		kmerge.WithSources(cfg.Sources...),
		kmerge.WithOutputName(cfg.Output),
		kmerge.WithOrderCheck(cfg.CheckOrder),
		kmerge.WithBufferSize(cfg.BufferSize),
		kmerge.WithSelector(sel),
		kmerge.WithLogger(logger),
		kmerge.WithRecorder(stats),
	}
	if cfg.ManifestDir != "" {
		ledger, err := manifest.Open(manifest.Options{Path: cfg.ManifestDir})
		if err != nil {
			return errors.Wrapf(err, "open manifest %s", cfg.ManifestDir)
		}
		defer ledger.Close()
		opts = append(opts, kmerge.WithLedger(ledger))
	}

	out, err := local.CreateOutput(cfg.Output, cfg.Truncate)
	if err != nil {
		return errors.Wrapf(err, "create output %s", cfg.Output)
	}

	logger.Debug().
		Str("source_dir", cfg.SourceDir).
		Strs("sources", cfg.Sources).
		Str("output", cfg.Output).
		Bool("truncate", cfg.Truncate).
		Str("selector", sel.String()).
		Msg("starting merge")

	storage := local.NewLocalStorage(cfg.SourceDir, local.WithExclude(cfg.Output))
	res, err := kmerge.Run(ctx, storage, out, opts...)
	if err != nil {
		if res.Partial {
			return errors.Wrapf(err, "merge into %s failed and left a partial tail (run %s)", cfg.Output, res.RunID)
		}
		return errors.Wrapf(err, "merge into %s", cfg.Output)
	}

	fmt.Fprintf(stdout, "merged %d values from %d sources into %s\n", res.Values, len(res.Sources), cfg.Output)
	if *metrics {
		return writeMetrics(stdout, reg)
	}
	return nil
}

func runGenerate(args []string, stdout io.Writer, getenv func(string) string) error {
	defaults := generate.DefaultOptions()

	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	var (
		dir      = fs.String("dir", "files", "directory to write the runs into")
		count    = fs.Int("count", defaults.Count, "number of files")
		minLen   = fs.Int("min-len", defaults.MinLen, "minimum values per file")
		maxLen   = fs.Int("max-len", defaults.MaxLen, "maximum values per file")
		minValue = fs.Int64("min", defaults.MinValue, "smallest value")
		maxValue = fs.Int64("max", defaults.MaxValue, "largest value")
		seed     = fs.Int64("seed", time.Now().UnixNano(), "random seed")
		logLevel = fs.String("log-level", getenv(config.EnvLogLevel), "log level")
	)
	if err := fs.Parse(args); err != nil {
		return parseError(err)
	}
	logger := setupLogger(*logLevel)

	opts := generate.Options{
		Count:    *count,
		MinLen:   *minLen,
		MaxLen:   *maxLen,
		MinValue: *minValue,
		MaxValue: *maxValue,
		Seed:     *seed,
	}
	paths, err := generate.Files(*dir, opts)
	if err != nil {
		return errors.WithStack(err)
	}

	logger.Debug().Int64("seed", *seed).Int("files", len(paths)).Str("dir", *dir).Msg("generated runs")
	for _, path := range paths {
		fmt.Fprintln(stdout, path)
	}
	return nil
}

func runVerify(args []string, stdout io.Writer, getenv func(string) string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	logLevel := fs.String("log-level", getenv(config.EnvLogLevel), "log level")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: kmerge verify [flags] file ...\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return parseError(err)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}
	logger := setupLogger(*logLevel)

	for _, path := range fs.Args() {
		report, err := verifyFile(path)
		if err != nil {
			return errors.Wrapf(err, "verify %s", path)
		}
		logger.Debug().Str("file", path).Int64("values", report.Values).Msg("verified")
		if report.Values == 0 {
			fmt.Fprintf(stdout, "%s: sorted, empty\n", path)
			continue
		}
		fmt.Fprintf(stdout, "%s: sorted, %d values in [%d, %d]\n", path, report.Values, report.Min, report.Max)
	}
	return nil
}

func verifyFile(path string) (verify.Report, error) {
	rc, err := local.OpenFile(path)
	if err != nil {
		return verify.Report{}, err
	}
	defer rc.Close()
	return verify.Sorted(rc)
}

func runList(args []string, stdout io.Writer, getenv func(string) string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	var (
		configPath  = fs.String("config", "", "TOML config file")
		manifestDir = fs.String("manifest", "", "directory of the run ledger")
	)
	if err := fs.Parse(args); err != nil {
		return parseError(err)
	}

	cfg, err := loadConfig(*configPath, getenv)
	if err != nil {
		return err
	}
	if *manifestDir != "" {
		cfg.ManifestDir = *manifestDir
	}
	if cfg.ManifestDir == "" {
		return errors.New("runs: -manifest or manifest_dir is required")
	}

	ledger, err := manifest.Open(manifest.Options{Path: cfg.ManifestDir})
	if err != nil {
		return errors.Wrapf(err, "open manifest %s", cfg.ManifestDir)
	}
	defer ledger.Close()

	runs, err := ledger.List()
	if err != nil {
		return errors.WithStack(err)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTATUS\tSOURCES\tVALUES\tOUTPUT\tSTARTED\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			r.ID, r.Status, len(r.Sources), r.Values, r.Output,
			r.Started.Format(time.RFC3339), r.Error)
	}
	return tw.Flush()
}

func loadConfig(path string, getenv func(string) string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, errors.Wrapf(err, "config %s", path)
		}
	}
	if err := config.ApplyEnv(&cfg, getenv); err != nil {
		return config.Config{}, errors.WithStack(err)
	}
	return cfg, nil
}

func setupLogger(raw string) zerolog.Logger {
	level, ok := monitoring.ParseLevel(raw)
	if !ok {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return monitoring.InitConsoleLogger("kmerge", level)
}

func parseError(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return errUsage
}

// writeMetrics prints the gathered counters and histogram totals, one sample
// per line.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			sort.Strings(labels)
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}

			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(w, "%s %g\n", name, m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				fmt.Fprintf(w, "%s_count %d\n", name, h.GetSampleCount())
				fmt.Fprintf(w, "%s_sum %g\n", name, h.GetSampleSum())
			}
		}
	}
	return nil
}
