package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/mapit-go/internal/logger"
	"github.com/wegman-software/mapit-go/internal/metrics"
	"github.com/wegman-software/mapit-go/internal/postcode"
)

var postcodeBatch int

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Find the areas containing a point or postcode in the current generation",
}

var lookupPointCmd = &cobra.Command{
	Use:   "point <lon> <lat>",
	Short: "Find the areas covering a WGS84 point",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		lon, errLon := strconv.ParseFloat(args[0], 64)
		lat, errLat := strconv.ParseFloat(args[1], 64)
		if errLon != nil || errLat != nil || lon < -180 || lon > 180 || lat < -90 || lat > 90 {
			exitWithError(fmt.Sprintf("invalid point %s %s", args[0], args[1]), nil)
		}

		ctx := context.Background()
		svc, done := lookupService(ctx)
		defer done()

		areas, err := svc.LookupPoint(ctx, lon, lat)
		if err != nil {
			exitWithError("point lookup failed", err)
		}
		for _, a := range areas {
			printArea(a)
		}
	},
}

var lookupPostcodeCmd = &cobra.Command{
	Use:   "postcode <code>",
	Short: "Find the areas containing a postcode",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc, done := lookupService(ctx)
		defer done()

		res, err := svc.Lookup(ctx, args[0])
		if err != nil {
			exitWithError("postcode lookup failed", err)
		}
		fmt.Printf("%s  %.6f %.6f\n", res.Postcode.Code, res.Postcode.Point.Lon(), res.Postcode.Point.Lat())
		for _, a := range res.Areas {
			printArea(a)
		}
	},
}

var importPostcodesCmd = &cobra.Command{
	Use:   "import-postcodes <postcodes.csv>",
	Short: "Load postcode centroids from a code,lat,lon CSV file",
	Long: `Load postcode centroids from a CSV file with code, lat and lon columns. A header
row is skipped. Existing postcodes are moved and their cached areas cleared.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		f, err := os.Open(args[0])
		if err != nil {
			exitWithError("failed to open postcode file", err)
		}
		defer f.Close()

		ctx, cancel := signalContext()
		defer cancel()
		s := openStore(ctx)
		defer s.Close()

		n, err := postcode.Import(ctx, s, f, postcodeBatch)
		if err != nil {
			exitWithError("postcode import failed", err)
		}
		logger.Get().Info("Postcodes loaded", zap.String("file", args[0]), zap.Int64("count", n))
	},
}

func init() {
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(importPostcodesCmd)
	lookupCmd.AddCommand(lookupPointCmd)
	lookupCmd.AddCommand(lookupPostcodeCmd)

	importPostcodesCmd.Flags().IntVar(&postcodeBatch, "batch-size", postcode.DefaultBatchSize, "Postcodes per COPY batch")
}

// lookupService opens the store and, when configured, the Redis cache
func lookupService(ctx context.Context) (*postcode.Service, func()) {
	s := openStore(ctx)
	run := metrics.NewRun()

	var cache postcode.Cache
	rc := postcode.OpenRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if rc != nil {
		cache = rc
	}

	done := func() {
		if rc != nil {
			rc.Close()
		}
		s.Close()
		if err := run.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Get().Warn("Failed to write metrics textfile", zap.Error(err))
		}
	}
	return postcode.NewService(s, cache, cfg.CacheTTL, run), done
}
