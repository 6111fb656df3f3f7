// Command watershed conditions a DEM, routes flow over it and delineates the
// watershed of every pour point, printing a summary table. Runs are saved to
// the configured run store; artifacts and Prometheus metrics are optional.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"watershed/internal/adapters/artifacts"
	"watershed/internal/blob"
	"watershed/internal/config"
	"watershed/internal/core"
	"watershed/internal/elevation"
	"watershed/internal/rasterio"
	"watershed/pkg/domain"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailed  = 1 // the run or its setup failed
	exitUsage   = 2
	exitPartial = 3 // some pour points could not be delineated
)

var (
	exitFunc  = os.Exit
	lookupEnv = os.LookupEnv
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("watershed", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: watershed [options]\n\n")
		fmt.Fprintf(stderr, "Delineates the watershed of every pour point on a DEM.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  watershed -d dem.asc -p outlets.csv -t 500\n")
		fmt.Fprintf(stderr, "  watershed -c watershed.yaml --export json,png\n")
	}
	flags := config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	cfg, err := flags.Resolve(lookupEnv)
	if err != nil {
		fmt.Fprintf(stderr, "invalid configuration:\n%v\n", err)
		return exitUsage
	}
	logger, err := newLogger(stderr, cfg.Log)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitUsage
	}
	code, err := run(ctx, cfg, logger, stdout)
	if err != nil {
		logger.Error("watershed failed", "error", err)
	}
	return code
}

func newLogger(w io.Writer, lc config.Log) (*slog.Logger, error) {
	level, err := config.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, stdout io.Writer) (int, error) {
	formats, err := cfg.ExportFormats()
	if err != nil {
		return exitUsage, err
	}
	var store blob.Store
	if cfg.DEM.Source == config.SourceBlob || len(formats) > 0 {
		if store, err = blob.Open(ctx, cfg.BlobOptions()); err != nil {
			return exitFailed, fmt.Errorf("open blob store: %w", err)
		}
	}

	src, name := demSource(cfg, store)
	dem, err := src.Fetch(ctx, cfg.Request())
	if err != nil {
		return exitFailed, fmt.Errorf("load dem: %w", err)
	}
	g := dem.Geometry()
	logger.Info("dem loaded", "source", name, "rows", g.Rows, "cols", g.Cols, "valid", dem.ValidCount())

	points, err := rasterio.ReadPointsFile(cfg.Points.Path)
	if err != nil {
		return exitFailed, fmt.Errorf("read pour points: %w", err)
	}
	params, err := cfg.CoreParams(g.CellArea())
	if err != nil {
		return exitUsage, err
	}
	if cfg.Params.StreamAreaKm2 > 0 {
		logger.Info("stream threshold from area", "km2", cfg.Params.StreamAreaKm2, "cells", params.StreamThreshold)
	}

	runs, err := core.OpenRunStore(ctx, cfg.StorageOptions())
	if err != nil {
		return exitFailed, fmt.Errorf("open run store: %w", err)
	}
	defer func() {
		if cerr := runs.Close(); cerr != nil {
			logger.Warn("close run store", "error", cerr)
		}
	}()

	metrics, writeMetrics, err := newMetrics(cfg.Metrics)
	if err != nil {
		return exitFailed, err
	}
	opts := []core.Option{
		core.WithLogger(logger),
		core.WithMetricsRecorder(metrics),
		core.WithRunStore(runs),
	}
	if path := cfg.Trace.File; path != "" {
		// #nosec G304 -- the operator names the trace file.
		tf, err := os.Create(path)
		if err != nil {
			return exitFailed, fmt.Errorf("open trace file: %w", err)
		}
		defer func() {
			if cerr := tf.Close(); cerr != nil {
				logger.Warn("close trace file", "error", cerr)
			}
		}()
		opts = append(opts, core.WithTracer(core.NewJSONTracer(tf)))
	}
	svc := core.NewService(opts...)

	var exports *artifacts.Worker
	if len(formats) > 0 {
		eopts := []artifacts.ExporterOption{artifacts.WithLogger(logger)}
		if cfg.Export.Prefix != "" {
			eopts = append(eopts, artifacts.WithPrefix(cfg.Export.Prefix))
		}
		exports = artifacts.NewWorker(artifacts.NewExporter(artifacts.NewBlobObjectStore(store, 0), eopts...), 0)
		exports.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := exports.Stop(sctx); err != nil {
				logger.Warn("stop export worker", "error", err)
			}
		}()
	}

	res, runErr := svc.Run(ctx, core.Input{Source: name, CRS: cfg.DEM.CRS, DEM: dem, Points: points}, params)
	var job artifacts.ExportRecord
	if exports != nil && res != nil && res.Surface != nil {
		if job, err = exports.Enqueue(res, formats); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("queue export: %w", err))
		} else {
			logger.Info("export queued", "export", job.ID, "run", job.RunID, "formats", len(job.Formats))
		}
	}
	if res != nil {
		if err := printSummary(stdout, res.Run); err != nil {
			return exitFailed, err
		}
	}
	if id := job.ID; id != "" {
		wait := ctx
		if cfg.Export.Timeout > 0 {
			var cancel context.CancelFunc
			wait, cancel = context.WithTimeout(ctx, cfg.Export.Timeout)
			defer cancel()
		}
		job, err = exports.Wait(wait, id)
		if err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("wait for export %s: %w", id, err))
		}
		if perr := printExport(stdout, job); perr != nil {
			runErr = errors.Join(runErr, perr)
		}
		if job.Status == artifacts.ExportStatusFailed {
			runErr = errors.Join(runErr, fmt.Errorf("export artifacts: %s", job.Error))
		}
	}
	if path := cfg.Metrics.Textfile; path != "" {
		if err := writeMetrics(path); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("write metrics: %w", err))
		}
	}

	switch {
	case runErr != nil:
		return exitFailed, runErr
	case res.Run.Status == domain.RunPartial:
		return exitPartial, nil
	default:
		return exitOK, nil
	}
}

// newMetrics returns the stage recorder selected by mc and a function writing
// its state to a file.
func newMetrics(mc config.Metrics) (core.MetricsRecorder, func(string) error, error) {
	if mc.Backend == config.MetricsExpvar {
		rec := core.NewExpvarMetricsRecorder("")
		return rec, func(path string) error {
			data, err := json.MarshalIndent(rec.Snapshot(), "", "  ")
			if err != nil {
				return err
			}
			return os.WriteFile(path, append(data, '\n'), 0o644)
		}, nil
	}
	reg := prometheus.NewRegistry()
	rec, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		return nil, nil, err
	}
	return rec, func(path string) error { return prometheus.WriteToTextfile(path, reg) }, nil
}

func demSource(cfg config.Config, store blob.Store) (elevation.Source, string) {
	if cfg.DEM.Source == config.SourceBlob {
		src := elevation.BlobSource{Store: store, Prefix: cfg.DEM.TilePrefix, Workers: cfg.Params.Workers}
		return src, "blob:" + src.TileKey(cfg.DEM.Level, "")
	}
	return elevation.FileSource{Path: cfg.DEM.Path}, cfg.DEM.Path
}

func printSummary(w io.Writer, run domain.Run) error {
	fmt.Fprintf(w, "run %s  %s  %s  %d×%d cells, %s streams\n",
		run.ID, run.Status, run.Duration().Round(time.Millisecond),
		run.Grid.Rows, run.Grid.Cols, humanize.Comma(int64(run.StreamCells)))
	c := run.Conditioning
	fmt.Fprintf(w, "conditioning: %d pits, %d breached (%s cells carved), %s cells raised\n",
		c.Pits, c.Breached, humanize.Comma(int64(c.Carved)), humanize.Comma(int64(c.Raised)))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tCELLS\tAREA\tSNAP\tMEAN TWI\tMEAN SLOPE\tERROR")
	for _, r := range run.Watersheds {
		if r.Failed() {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t-\t%s\n", r.Label, r.Error)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s km²\t%s\t%.2f\t%.1f°\t\n",
			r.Label,
			humanize.Comma(int64(r.Cells)),
			humanize.CommafWithDigits(r.AreaM2/1e6, 3),
			humanize.FtoaWithDigits(r.SnapDistance, 1),
			r.MeanTWI, r.MeanSlope)
	}
	return tw.Flush()
}

func printExport(w io.Writer, job artifacts.ExportRecord) error {
	fmt.Fprintf(w, "export %s  %s  %d artifacts\n", job.ID, job.Status, len(job.Artifacts))
	if len(job.Artifacts) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ARTIFACT\tSIZE\tURL")
	for _, a := range job.Artifacts {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", a.Key, humanize.Bytes(uint64(a.SizeBytes)), a.URL)
	}
	return tw.Flush()
}
