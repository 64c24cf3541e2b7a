package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/combine"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/config"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/exitcode"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/metrics"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/model"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/report"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/reportstore"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/retry"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/storage"
	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/verify"
)

const bytesPerMB = 1024 * 1024

type storeOpener func(ctx context.Context, cfg *config.Config, bucket string, rec *metrics.Recorder) (storage.Store, error)

type sinkOpener func(ctx context.Context, cfg reportstore.Config, logger *slog.Logger) (reportstore.Sink, error)

// app carries the process-level dependencies of every command.
type app struct {
	out       io.Writer
	logOut    io.Writer
	openStore storeOpener
	openSink  sinkOpener

	cfg *config.Config
}

func defaultApp() *app {
	return &app{
		out:       os.Stdout,
		logOut:    os.Stderr,
		openStore: openMinIO,
		openSink:  reportstore.Open,
	}
}

// exitError carries the process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func fail(code int, err error) error {
	return &exitError{code: code, err: err}
}

func execute(ctx context.Context, args []string, a *app) int {
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(a.out)
	root.SetErr(a.logOut)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitcode.Success
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		slog.Error("run failed", "error", exitErr.err, "exit_code", exitErr.code)
		return exitErr.code
	}
	// flag and argument errors from cobra
	fmt.Fprintf(a.logOut, "Usage: %v\n", err)
	return exitcode.ConfigError
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "compactor",
		Short:         "Combine small Parquet objects and verify the result",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fail(exitcode.ConfigError, fmt.Errorf("load config: %w", err))
			}
			a.cfg = cfg
			slog.SetDefault(slog.New(slog.NewJSONHandler(a.logOut, &slog.HandlerOptions{Level: cfg.LogLevel})))
			return nil
		},
	}
	root.AddCommand(a.combineCmd(), a.verifyCmd())
	return root
}

type combineFlags struct {
	bucket      string
	prefix      string
	force       bool
	targetMB    int64
	concurrency int
}

func (a *app) combineCmd() *cobra.Command {
	var f combineFlags
	cmd := &cobra.Command{
		Use:   "combine",
		Short: "Merge small Parquet objects of each table into combined objects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCombine(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.bucket, "bucket", "", "S3 bucket name")
	cmd.Flags().StringVar(&f.prefix, "prefix", "", "Source data prefix (no leading /)")
	cmd.Flags().BoolVar(&f.force, "force", false, "Rebuild tables that already have combined objects")
	cmd.Flags().Int64Var(&f.targetMB, "target-mb", 0, "Target combined object size in MB (default COMPACTOR_TARGET_MB)")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "Groups merged in parallel (default COMPACTOR_CONCURRENCY)")
	_ = cmd.MarkFlagRequired("bucket")
	_ = cmd.MarkFlagRequired("prefix")
	return cmd
}

func (a *app) runCombine(ctx context.Context, f combineFlags) error {
	if f.targetMB < 0 || f.concurrency < 0 {
		return fail(exitcode.ConfigError, errors.New("--target-mb and --concurrency must be positive"))
	}
	targetMB := firstPositive(f.targetMB, a.cfg.TargetMB)
	concurrency := int(firstPositive(int64(f.concurrency), int64(a.cfg.Concurrency)))

	runID, err := model.NewRunID()
	if err != nil {
		return fail(exitcode.ConfigError, err)
	}
	rec := metrics.New()
	defer a.pushMetrics(ctx, rec, "combine", runID)

	st, err := a.openStore(ctx, a.cfg, f.bucket, rec)
	if err != nil {
		return fail(exitcode.StorageError, err)
	}

	slog.InfoContext(ctx, "starting combine", "run_id", runID, "bucket", f.bucket, "prefix", f.prefix,
		"target_mb", targetMB, "concurrency", concurrency, "force", f.force)

	svc := combine.NewService(st, combine.Options{
		Prefix:      f.prefix,
		TargetSize:  targetMB * bytesPerMB,
		Concurrency: concurrency,
		Force:       f.force,
	}, rec)
	summary, err := svc.Run(ctx)
	if err != nil {
		return fail(runErrorCode(ctx), err)
	}

	writeSummary(a.out, summary)
	if summary.Failed() {
		return fail(exitcode.CombineIncomplete, fmt.Errorf("%d groups failed", summary.FailedGroups()))
	}
	return nil
}

type verifyFlags struct {
	bucket          string
	prefix          string
	format          string
	detailThreshold int64
	concurrency     int
	runID           string
}

func (a *app) verifyCmd() *cobra.Command {
	var f verifyFlags
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that combined objects hold exactly the rows of the originals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runVerify(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.bucket, "bucket", "", "S3 bucket name")
	cmd.Flags().StringVar(&f.prefix, "prefix", "", "Source data prefix (no leading /)")
	cmd.Flags().StringVar(&f.format, "format", report.FormatText, "Report format: text, json or yaml")
	cmd.Flags().Int64Var(&f.detailThreshold, "detail-threshold", 0, "Row count below which mismatches get a row diff (default COMPACTOR_DETAIL_THRESHOLD)")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "Tables verified in parallel (default COMPACTOR_CONCURRENCY)")
	cmd.Flags().StringVar(&f.runID, "run-id", "", "Run identifier (UUIDv7), generated when empty")
	_ = cmd.MarkFlagRequired("bucket")
	_ = cmd.MarkFlagRequired("prefix")
	return cmd
}

func (a *app) runVerify(ctx context.Context, f verifyFlags) error {
	switch f.format {
	case report.FormatText, report.FormatJSON, report.FormatYAML:
	default:
		return fail(exitcode.ConfigError, fmt.Errorf("unknown --format %q", f.format))
	}
	if f.detailThreshold < 0 || f.concurrency < 0 {
		return fail(exitcode.ConfigError, errors.New("--detail-threshold and --concurrency must be positive"))
	}

	runID := model.RunID(f.runID)
	if runID == "" {
		var err error
		if runID, err = model.NewRunID(); err != nil {
			return fail(exitcode.ConfigError, err)
		}
	} else if err := runID.Validate(); err != nil {
		return fail(exitcode.ConfigError, err)
	}

	rec := metrics.New()
	defer a.pushMetrics(ctx, rec, "verify", runID)

	st, err := a.openStore(ctx, a.cfg, f.bucket, rec)
	if err != nil {
		return fail(exitcode.StorageError, err)
	}

	started := time.Now().UTC()
	v := verify.New(st, verify.Options{
		Prefix:          f.prefix,
		Concurrency:     int(firstPositive(int64(f.concurrency), int64(a.cfg.Concurrency))),
		DetailThreshold: firstPositive(f.detailThreshold, a.cfg.DetailThreshold),
	}, rec)
	outcome, err := v.Run(ctx)
	if err != nil {
		return fail(runErrorCode(ctx), err)
	}

	rep := report.Aggregate(report.Run{
		ID:         runID,
		Bucket:     f.bucket,
		Prefix:     storage.NormalizePrefix(f.prefix),
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}, outcome.Results, outcome.Skipped)

	if err := report.Write(a.out, rep, f.format); err != nil {
		slog.ErrorContext(ctx, "failed to write report", "error", err)
	}
	a.saveReport(ctx, rep)

	if !rep.OverallPassed {
		return fail(exitcode.VerificationFailed, fmt.Errorf("%d of %d tables failed verification", rep.TablesFailed, rep.TablesVerified))
	}
	slog.InfoContext(ctx, "verification passed", "run_id", runID, "tables", rep.TablesVerified)
	return nil
}

// saveReport stores the report in the configured sink. Failures are logged only.
func (a *app) saveReport(ctx context.Context, rep model.RunReport) {
	logger := slog.Default()
	sink, err := a.openSink(ctx, reportstore.Config{
		Kind: a.cfg.ReportSink,
		ClickHouse: reportstore.ClickHouseConfig{
			Host:     a.cfg.ClickHouseHost,
			Port:     a.cfg.ClickHousePort,
			User:     a.cfg.ClickHouseUser,
			Password: a.cfg.ClickHousePassword,
			Database: a.cfg.ClickHouseDatabase,
		},
		PostgresDSN: a.cfg.PostgresDSN,
	}, logger)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open report sink", "sink", a.cfg.ReportSink, "error", err)
		return
	}
	if sink == nil {
		return
	}
	defer sink.Close()

	if err := sink.EnsureSchema(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to prepare report sink", "sink", a.cfg.ReportSink, "error", err)
		return
	}
	if err := sink.Save(ctx, rep); err != nil {
		slog.ErrorContext(ctx, "failed to save report", "sink", a.cfg.ReportSink, "error", err)
		return
	}
	slog.InfoContext(ctx, "report saved", "sink", a.cfg.ReportSink, "run_id", rep.RunID)
}

func (a *app) pushMetrics(ctx context.Context, rec *metrics.Recorder, job string, runID model.RunID) {
	if a.cfg.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := rec.Push(ctx, a.cfg.PushgatewayURL, "parquet_compactor_"+job, runID.String()); err != nil {
		slog.Warn("failed to push metrics", "error", err)
	}
}

func openMinIO(ctx context.Context, cfg *config.Config, bucket string, rec *metrics.Recorder) (storage.Store, error) {
	client, err := storage.NewMinIOClient(ctx, storage.MinIOConfig{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Region:    cfg.MinIORegion,
		Bucket:    bucket,
		UseSSL:    cfg.MinIOUseSSL,
	})
	if err != nil {
		return nil, err
	}
	policy := retry.Default()
	policy.MaxAttempts = cfg.RetryAttempts
	policy.OnRetry = rec.StoreRetry
	return storage.WithRetry(client, policy), nil
}

func runErrorCode(ctx context.Context) int {
	if ctx.Err() != nil {
		return exitcode.Interrupted
	}
	return exitcode.StorageError
}

func firstPositive(values ...int64) int64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func writeSummary(w io.Writer, s combine.Summary) {
	for _, t := range s.Tables {
		switch {
		case t.SkipReason != "":
			fmt.Fprintf(w, "%s: skipped (%s)\n", t.Table, t.SkipReason)
		case t.Err != nil:
			fmt.Fprintf(w, "%s: FAILED %d of %d groups\n", t.Table, countFailed(t.Groups), len(t.Groups))
		default:
			fmt.Fprintf(w, "%s: combined %d groups\n", t.Table, len(t.Groups))
		}
		for _, g := range t.Groups {
			if g.Err != nil {
				fmt.Fprintf(w, "  - %s: %v\n", g.OutputKey, g.Err)
				continue
			}
			fmt.Fprintf(w, "  - %s (%d files, %d rows)\n", g.OutputKey, g.Members, g.Rows)
		}
		for _, key := range t.Deleted {
			fmt.Fprintf(w, "  - removed %s\n", key)
		}
	}
	fmt.Fprintf(w, "groups merged: %d, failed: %d\n", s.MergedGroups(), s.FailedGroups())
}

func countFailed(groups []combine.GroupResult) int {
	n := 0
	for _, g := range groups {
		if g.Err != nil {
			n++
		}
	}
	return n
}
