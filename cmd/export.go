package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/mapit-go/internal/export"
	"github.com/wegman-software/mapit-go/internal/logger"
	"github.com/wegman-software/mapit-go/internal/proj"
	"github.com/wegman-software/mapit-go/internal/store"
)

var (
	exportAll        bool
	exportFormat     string
	exportOutput     string
	exportSRID       string
	preserveTopology bool
)

var exportCmd = &cobra.Command{
	Use:   "export [area-id...]",
	Short: "Export area boundaries as GeoJSON, WKT, nested rings or Parquet",
	Long: `Export area boundaries, optionally simplified and reprojected.

  mapit export 42 --tolerance 0.0001
  mapit export --all --type O08 --srid 3857 --format parquet -o wards.parquet

Simplification that reduces a boundary to nothing is an error for a single
area; with --all such areas are logged and left out.`,
	Run: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().BoolVar(&exportAll, "all", false, "Export every live area of the generation")
	exportCmd.Flags().StringSliceVarP(&areaTypes, "type", "t", nil, "With --all, only export these area types")
	exportCmd.Flags().Int64Var(&generationID, "generation", 0, "With --all, the generation to export (default: current)")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", string(export.FormatGeoJSON), "Output format: geojson, wkt, rings or parquet")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout; required for parquet)")
	exportCmd.Flags().StringVarP(&exportSRID, "srid", "E", "4326", "Output SRID (4326 or 3857)")
	exportCmd.Flags().Float64Var(&cfg.Tolerance, "tolerance", cfg.Tolerance, "Simplification tolerance in output units (0 = none)")
	exportCmd.Flags().BoolVar(&preserveTopology, "preserve-topology", false, "Simplify without collapsing rings")
}

func runExport(cmd *cobra.Command, args []string) {
	log := logger.Get()
	if exportAll == (len(args) > 0) {
		exitWithError("give area ids or --all", nil)
	}
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		exitWithError("invalid format", err)
	}
	if format == export.FormatParquet && exportOutput == "" {
		exitWithError("parquet export needs --output", nil)
	}
	srid, err := proj.ParseSRID(exportSRID)
	if err != nil {
		exitWithError("invalid projection", err)
	}
	cfg.Projection = srid

	shaper, err := export.NewShaper(export.Options{
		Tolerance:        cfg.Tolerance,
		SRID:             cfg.Projection,
		PreserveTopology: preserveTopology,
	})
	if err != nil {
		exitWithError("invalid export options", err)
	}

	ctx, cancel := signalContext()
	defer cancel()
	s := openStore(ctx)
	defer s.Close()

	var areas []*store.Area
	if exportAll {
		gen := generationID
		if gen == 0 {
			g, err := s.CurrentGeneration(ctx)
			if err != nil {
				exitWithError("no generation to export", err)
			}
			gen = g.ID
		}
		if areas, err = s.AreasLiveIn(ctx, gen, areaTypes); err != nil {
			exitWithError("failed to list areas", err)
		}
	} else {
		for _, arg := range args {
			a, err := s.Area(ctx, parseAreaID(arg))
			if err != nil {
				exitWithError("failed to load area", err)
			}
			areas = append(areas, a)
		}
	}

	var kept []*store.Area
	var shapes []orb.MultiPolygon
	collapsed := 0
	for _, a := range areas {
		if err := ctx.Err(); err != nil {
			exitWithError("export interrupted", err)
		}
		mp, err := s.Geometry(ctx, a.ID)
		if err != nil {
			exitWithError(fmt.Sprintf("failed to load geometry of area %d", a.ID), err)
		}
		shape, err := shaper.Shape(mp)
		if errors.Is(err, export.ErrCollapsed) && exportAll {
			log.Warn("Skipping collapsed area", zap.Int64("area_id", a.ID), zap.String("name", a.Name))
			collapsed++
			continue
		}
		if err != nil {
			exitWithError(fmt.Sprintf("failed to export area %d", a.ID), err)
		}
		kept = append(kept, a)
		shapes = append(shapes, shape)
	}

	if err := writeExport(format, kept, shapes, shaper.SRID()); err != nil {
		exitWithError("failed to write export", err)
	}
	log.Info("Export complete",
		zap.String("format", string(format)),
		zap.Int("areas", len(kept)),
		zap.Int("collapsed", collapsed),
		zap.Int("srid", shaper.SRID()),
		zap.Float64("tolerance", cfg.Tolerance))
}

func writeExport(format export.Format, areas []*store.Area, shapes []orb.MultiPolygon, srid int) error {
	if format == export.FormatParquet {
		w, err := export.NewParquetWriter(exportOutput, srid, 1000)
		if err != nil {
			return err
		}
		for i, a := range areas {
			if err := w.Write(a, shapes[i]); err != nil {
				w.Close()
				return err
			}
		}
		return w.Close()
	}

	var out io.Writer = os.Stdout
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	bw := bufio.NewWriter(out)

	switch format {
	case export.FormatGeoJSON:
		if err := json.NewEncoder(bw).Encode(export.FeatureCollection(areas, shapes)); err != nil {
			return err
		}
	case export.FormatWKT:
		for i, a := range areas {
			fmt.Fprintf(bw, "%d\t%s\n", a.ID, export.WKT(shapes[i]))
		}
	case export.FormatRings:
		rings := make(map[int64]export.Rings, len(areas))
		for i, a := range areas {
			rings[a.ID] = export.NestedRings(shapes[i])
		}
		if err := json.NewEncoder(bw).Encode(rings); err != nil {
			return err
		}
	}
	return bw.Flush()
}
