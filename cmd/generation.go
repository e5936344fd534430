package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/mapit-go/internal/logger"
	"github.com/wegman-software/mapit-go/internal/store"
)

var (
	dropExisting   bool
	generationDesc string
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the mapit tables and indexes",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		s := openStore(ctx)
		defer s.Close()

		if err := s.EnsureSchema(ctx, dropExisting); err != nil {
			exitWithError("failed to create schema", err)
		}
		logger.Get().Info("Schema ready",
			zap.String("schema", cfg.DBSchema),
			zap.Bool("dropped", dropExisting))
	},
}

var generationCmd = &cobra.Command{
	Use:   "generation",
	Short: "Manage area generations",
	Long: `Areas are valid over a range of generations. An import writes into a new,
inactive generation which becomes visible to lookups once activated:

  mapit generation create --description "2026-10 boundaries"
  mapit import-osm boundaries.osm.pbf
  mapit generation activate`,
}

var generationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List generations",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		s := openStore(ctx)
		defer s.Close()

		gens, err := s.ListGenerations(ctx)
		if err != nil {
			exitWithError("failed to list generations", err)
		}
		for _, g := range gens {
			state := "new"
			if g.Active {
				state = "active"
			}
			fmt.Printf("%4d  %-6s  %-14s  %s\n", g.ID, state, humanize.Time(g.Created), g.Description)
		}
	},
}

var generationCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the new generation for the next import",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		s := openStore(ctx)
		defer s.Close()

		g, err := s.CreateGeneration(ctx, generationDesc)
		if errors.Is(err, store.ErrNewGenerationExists) {
			exitWithError("activate or import into the existing new generation first", err)
		}
		if err != nil {
			exitWithError("failed to create generation", err)
		}
		logger.Get().Info("Generation created", zap.Int64("generation", g.ID), zap.String("description", g.Description))
	},
}

var generationActivateCmd = &cobra.Command{
	Use:   "activate [generation-id]",
	Short: "Activate a generation (default: the new one)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		s := openStore(ctx)
		defer s.Close()

		var id int64
		if len(args) == 1 {
			n, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				exitWithError("invalid generation id", err)
			}
			id = n
		} else {
			g, err := s.NewGeneration(ctx)
			if err != nil {
				exitWithError("no generation to activate", err)
			}
			id = g.ID
		}

		if err := s.ActivateGeneration(ctx, id); err != nil {
			exitWithError("failed to activate generation", err)
		}
		logger.Get().Info("Generation activated", zap.Int64("generation", id))
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd)
	rootCmd.AddCommand(generationCmd)
	generationCmd.AddCommand(generationListCmd)
	generationCmd.AddCommand(generationCreateCmd)
	generationCmd.AddCommand(generationActivateCmd)

	initDBCmd.Flags().BoolVar(&dropExisting, "drop-existing", false, "Drop existing tables first")
	generationCreateCmd.Flags().StringVar(&generationDesc, "description", "", "Description of the generation")
}
