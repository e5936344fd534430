package cmd

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/twpayne/go-geos"
	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/mapit-go/internal/logger"
	"github.com/wegman-software/mapit-go/internal/reconcile"
	"github.com/wegman-software/mapit-go/internal/spatial"
	"github.com/wegman-software/mapit-go/internal/store"
)

var (
	predicateNames []string
	areaTypes      []string
	generationID   int64
	childType      string
	parentType     string
)

var areasCmd = &cobra.Command{
	Use:   "areas",
	Short: "Query stored areas",
}

var areasShowCmd = &cobra.Command{
	Use:   "show <area-id>",
	Short: "Show an area with its codes and names",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := parseAreaID(args[0])
		ctx := context.Background()
		s := openStore(ctx)
		defer s.Close()

		a, err := s.Area(ctx, id)
		if err != nil {
			exitWithError("failed to load area", err)
		}
		printArea(a)
		for _, k := range sortedLabels(a.Codes) {
			fmt.Printf("      code %s = %s\n", k, a.Codes[k])
		}
		for _, k := range sortedLabels(a.Names) {
			fmt.Printf("      name %s = %s\n", k, a.Names[k])
		}
	},
}

var areasRelatedCmd = &cobra.Command{
	Use:   "related <area-id>",
	Short: "List areas standing in a spatial relationship to an area",
	Long: `List live areas related to the given area by any of the requested predicates:
touches, overlaps, covers, covered_by, covers_or_overlaps, intersects.

  mapit areas related 42 --predicate touches --type O08
  mapit areas related 42 --predicate covers --predicate overlaps`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		q := spatial.Query{
			AreaID:     parseAreaID(args[0]),
			Types:      areaTypes,
			Generation: generationID,
		}
		for _, name := range predicateNames {
			p, err := spatial.ParsePredicate(name)
			if err != nil {
				exitWithError("invalid predicate", err)
			}
			q.Predicates = append(q.Predicates, p)
		}

		ctx := context.Background()
		s := openStore(ctx)
		defer s.Close()

		areas, err := s.Related(ctx, q)
		if err != nil {
			exitWithError("spatial query failed", err)
		}
		for _, a := range areas {
			printArea(a)
		}
	},
}

var findParentsCmd = &cobra.Command{
	Use:   "find-parents",
	Short: "Set each area's parent to the smallest area of a type covering it",
	Long: `For every live area of --child-type, find the areas of --parent-type that cover
it and record the smallest as its parent. Runs against the new generation
when one exists, otherwise the current one, unless --generation is given.`,
	Run: func(cmd *cobra.Command, args []string) {
		if childType == "" || parentType == "" {
			exitWithError("--child-type and --parent-type are required", nil)
		}
		ctx, cancel := signalContext()
		defer cancel()
		s := openStore(ctx)
		defer s.Close()

		gen := generationID
		if gen == 0 {
			gen = workingGeneration(ctx, s)
		}

		stats, err := reconcile.FindParents(ctx, s, geos.NewContext(), gen, childType, parentType, cfg.DryRun)
		if err != nil {
			exitWithError("find-parents failed", err)
		}
		logger.Get().Info("Parents assigned",
			zap.Int64("generation", gen),
			zap.Int("children", stats.Children),
			zap.Int("assigned", stats.Assigned),
			zap.Int("orphans", stats.Orphans),
			zap.Bool("dry_run", cfg.DryRun))
	},
}

func init() {
	rootCmd.AddCommand(areasCmd)
	rootCmd.AddCommand(findParentsCmd)
	areasCmd.AddCommand(areasShowCmd)
	areasCmd.AddCommand(areasRelatedCmd)

	areasRelatedCmd.Flags().StringSliceVarP(&predicateNames, "predicate", "p", []string{"overlaps"}, "Spatial predicate (repeatable)")
	areasRelatedCmd.Flags().StringSliceVarP(&areaTypes, "type", "t", nil, "Only return areas of these types")
	areasRelatedCmd.Flags().Int64Var(&generationID, "generation", 0, "Generation to query (default: current)")

	findParentsCmd.Flags().StringVar(&childType, "child-type", "", "Type of the areas to assign parents to")
	findParentsCmd.Flags().StringVar(&parentType, "parent-type", "", "Type of the candidate parents")
	findParentsCmd.Flags().Int64Var(&generationID, "generation", 0, "Generation to work on")
}

// workingGeneration is the new generation if there is one, else the current
func workingGeneration(ctx context.Context, s store.Generations) int64 {
	if g, err := s.NewGeneration(ctx); err == nil {
		return g.ID
	}
	g, err := s.CurrentGeneration(ctx)
	if err != nil {
		exitWithError("no generation to work on", err)
	}
	return g.ID
}

func parseAreaID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		exitWithError("invalid area id "+strconv.Quote(s), err)
	}
	return id
}

func printArea(a *store.Area) {
	parent := "-"
	if a.ParentID != nil {
		parent = strconv.FormatInt(*a.ParentID, 10)
	}
	fmt.Printf("%6d  %-4s  %-3s  %-32s  gen %d-%d  parent %s\n",
		a.ID, a.Type, a.Country, a.Name, a.GenerationLow, a.GenerationHigh, parent)
}

func sortedLabels(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
