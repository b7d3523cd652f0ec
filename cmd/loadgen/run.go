package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/blackcoderx/loadgen/internal/collection"
	"github.com/blackcoderx/loadgen/internal/console"
	"github.com/blackcoderx/loadgen/internal/datasource"
	"github.com/blackcoderx/loadgen/internal/failurelog"
	"github.com/blackcoderx/loadgen/internal/httpexec"
	"github.com/blackcoderx/loadgen/internal/loadmodel"
	"github.com/blackcoderx/loadgen/internal/logging"
	"github.com/blackcoderx/loadgen/internal/metrics"
	"github.com/blackcoderx/loadgen/internal/report"
	"github.com/blackcoderx/loadgen/internal/runconfig"
	"github.com/blackcoderx/loadgen/internal/scheduler"
	"github.com/blackcoderx/loadgen/internal/sequence"
	"github.com/blackcoderx/loadgen/internal/variables"
)

func newRunCmd() *cobra.Command {
	var failureLogDir string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test from a run config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile == "" {
				return fmt.Errorf("--config is required")
			}
			return runLoadTest(cfgFile, failureLogDir, verbose, yes)
		},
	}

	cmd.Flags().StringVar(&failureLogDir, "failure-log-dir", "./failures", "directory for per-endpoint failure logs")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	return cmd
}

func runLoadTest(cfgPath, failureLogDir string, verbose, skipConfirm bool) error {
	log, err := logging.New(verbose, false)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck
	slog := log.Sugar()

	cfg, paths, prelude, err := runconfig.Load(cfgPath)
	if err != nil {
		return err
	}

	templates, err := loadTemplates(paths.PostmanCollectionPath)
	if err != nil {
		return err
	}
	rows, err := (datasource.CSVLoader{}).Load(paths.CsvDataPath)
	if err != nil {
		return fmt.Errorf("loading CSV data: %w", err)
	}
	var dsCfg loadmodel.DataSourceConfig
	if paths.ColumnMappingPath != "" {
		dsCfg, err = datasource.LoadColumnMapping(paths.ColumnMappingPath)
		if err != nil {
			return fmt.Errorf("loading column mapping: %w", err)
		}
	}

	fmt.Printf("Target VUs: %d  Ramp-up: %dms  Steady: %dms  Ramp-down: %dms  Rows: %d  Steps: %d\n",
		cfg.MaxVUs, cfg.RampUpMs, cfg.TestMs, cfg.RampDownMs, len(rows), len(cfg.StepSequence))

	if !skipConfirm && !confirm("Start the load test?") {
		fmt.Println("Aborted.")
		return nil
	}

	exec := httpexec.New(httpexec.Options{
		RequestTimeoutMs: cfg.RequestTimeoutMs,
		IgnoreSslErrors:  cfg.IgnoreSslErrors,
		FollowRedirects:  cfg.FollowRedirects,
		MaxRedirects:     cfg.MaxRedirects,
	})

	agg := metrics.New(prometheus.NewRegistry(), runID())
	flog, err := failurelog.New(failureLogDir)
	if err != nil {
		return fmt.Errorf("initializing failure logger: %w", err)
	}
	defer flog.Close()

	var seqMgr *sequence.Manager
	if prelude != nil {
		seqMgr = sequence.New(prelude, exec, agg, slog)
	}

	sched := scheduler.New(cfg, scheduler.Templates{
		ByName:  templates,
		Rows:    rows,
		Source:  dsCfg,
		Globals: variables.GlobalsMap(dsCfg.Globals),
	}, exec, seqMgr, agg, flog, slog)

	var mon *console.Monitor
	if cfg.ConsoleUpdateIntervalMs > 0 {
		mon = console.New(os.Stdout, agg, cfg.ConsoleUpdateIntervalMs)
		sched.OnTick(func(phase scheduler.Phase, target, active int) {
			mon.Tick(phase.String(), target, active)
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	monitorDone := make(chan struct{})
	if mon != nil {
		go func() {
			mon.Run(ctx.Done())
			close(monitorDone)
		}()
	} else {
		close(monitorDone)
	}

	sched.Run(ctx)
	agg.MarkEnd()
	<-monitorDone

	snapshot := agg.Snapshot()
	verdict := runconfig.Evaluate(snapshot, cfg.Thresholds)
	console.FinalSummary(os.Stdout, snapshot, verdict.Pass, verdict.Reasons)

	if paths.HtmlReportPath != "" {
		writer := report.MarkdownWriter{Path: paths.HtmlReportPath}
		if err := writer.Write(snapshot, cfg); err != nil {
			slog.Errorw("failed to write report artifact", "error", err)
		} else {
			fmt.Printf("\nReport written to %s\n", paths.HtmlReportPath)
		}
	}

	if !verdict.Pass {
		return fmt.Errorf("load test failed thresholds")
	}
	return nil
}

func loadTemplates(path string) (map[string]loadmodel.RequestTemplate, error) {
	tmpls, err := (collection.PostmanLoader{}).Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading Postman collection: %w", err)
	}
	byName := make(map[string]loadmodel.RequestTemplate, len(tmpls))
	for _, t := range tmpls {
		byName[t.Name] = t
	}
	return byName, nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}

func runID() string {
	return "loadgen-" + uuid.NewString()
}
