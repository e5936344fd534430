package cmd

import (
	"errors"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/mapit-go/internal/control"
	"github.com/wegman-software/mapit-go/internal/elementcache"
	"github.com/wegman-software/mapit-go/internal/importer"
	"github.com/wegman-software/mapit-go/internal/logger"
	"github.com/wegman-software/mapit-go/internal/metrics"
	"github.com/wegman-software/mapit-go/internal/reconcile"
	"github.com/wegman-software/mapit-go/internal/repair"
)

var maxPerimeterChange float64

var importOSMCmd = &cobra.Command{
	Use:   "import-osm <boundaries.osm|.osm.gz|.osm.pbf>",
	Short: "Import administrative boundaries into the new generation",
	Long: `Import boundary relations and closed ways into the new generation:

  1. Parse the input, fetching referenced elements missing from XML input
     through the element cache
  2. Select boundaries with the control file and build their polygons in parallel
  3. Repair invalid polygons; boundaries that cannot be built or repaired are skipped
  4. Reconcile each boundary against the current generation: unchanged areas keep
     their id, changed and new ones get a new area row

A reconciliation inconsistency aborts the whole import.`,
	Args: cobra.ExactArgs(1),
	Run:  runImportOSM,
}

func init() {
	rootCmd.AddCommand(importOSMCmd)

	importOSMCmd.Flags().StringVarP(&cfg.ControlFile, "control", "c", cfg.ControlFile, "Control YAML file (default: OSM admin levels)")
	importOSMCmd.Flags().Float64Var(&maxPerimeterChange, "max-perimeter-change", repair.DefaultMaxPerimeterChange, "Largest relative perimeter change a repair may make")
}

func runImportOSM(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx, cancel := signalContext()
	defer cancel()

	ctl := control.Default()
	if cfg.ControlFile != "" {
		var err error
		if ctl, err = control.Load(cfg.ControlFile); err != nil {
			exitWithError("failed to load control file", err)
		}
	}

	var fetcher *elementcache.Fetcher
	if !cfg.Offline {
		fetcher = elementcache.NewFetcher(cfg.APIURL)
	}
	cache := elementcache.New(cfg.CacheDir, fetcher)

	s := openStore(ctx)
	defer s.Close()

	run := metrics.NewRun()
	collector := metrics.NewCollector(cfg.MetricsInterval, logger.Named("metrics"), run)
	go collector.Start(ctx)

	log.Info("Starting boundary import",
		zap.String("input", args[0]),
		zap.String("control", cfg.ControlFile),
		zap.String("code_type", ctl.CodeType()),
		zap.Int("workers", cfg.Workers),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Bool("offline", cfg.Offline))

	im := importer.New(s, ctl, importer.Options{
		Workers:            cfg.Workers,
		DryRun:             cfg.DryRun,
		MaxPerimeterChange: maxPerimeterChange,
		Resolver:           cache,
		Metrics:            run,
	})
	stats, err := im.ImportFile(ctx, args[0])

	cs := cache.Stats()
	run.CacheLookups.WithLabelValues("hit").Add(float64(cs.Hits))
	run.CacheLookups.WithLabelValues("fetched").Add(float64(cs.Fetched))
	run.CacheLookups.WithLabelValues("absent").Add(float64(cs.Absent))
	if werr := run.WriteTextfile(cfg.MetricsFile); werr != nil {
		log.Warn("Failed to write metrics textfile", zap.String("path", cfg.MetricsFile), zap.Error(werr))
	}

	var inconsistent *reconcile.InconsistencyError
	if errors.As(err, &inconsistent) {
		exitWithError("generation sequence has a gap; fix the area range manually", err)
	}
	if err != nil {
		exitWithError("import failed", err)
	}

	log.Info("Import complete",
		zap.Int64("generation", stats.Generation),
		zap.String("relations", humanize.Comma(stats.Relations)),
		zap.Int("selected", stats.Selected),
		zap.Int("created", stats.Created),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("changed", stats.Changed),
		zap.Int("repaired", stats.Repaired),
		zap.Int("skipped", stats.Skipped),
		zap.Int64("cache_hits", cs.Hits),
		zap.Int64("fetched", cs.Fetched),
		zap.Duration("total_time", stats.Duration.Round(time.Second)))
}
