package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"longwalk/internal/app"
	"longwalk/internal/config"
	"longwalk/internal/longrange"
	"longwalk/internal/walkable"
	"longwalk/internal/world"
)

var (
	configPath string
	mapIndex   int
	fromX      int
	fromY      int
	toX        int
	toY        int
	schemaOut  string

	rootCmd = &cobra.Command{
		Use:           "longwalk",
		Short:         "Long-distance walking service with a persistent walkability cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the simulation and serve the HTTP and websocket API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect [cache file]",
		Short: "Print the statistics of a walkable cache file",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}

	searchCmd = &cobra.Command{
		Use:   "search",
		Short: "Run one long-range search over the configured world and print the path",
		Args:  cobra.NoArgs,
		RunE:  runSearch,
	}

	schemaCmd = &cobra.Command{
		Use:   "schema",
		Short: "Write the JSON schema of the configuration file",
		Args:  cobra.NoArgs,
		RunE:  runSchema,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML configuration file")

	inspectCmd.Flags().IntVar(&mapIndex, "map", 0, "map index the file was written for")

	searchCmd.Flags().IntVar(&fromX, "from-x", 8, "start x")
	searchCmd.Flags().IntVar(&fromY, "from-y", 8, "start y")
	searchCmd.Flags().IntVar(&toX, "to-x", 0, "goal x")
	searchCmd.Flags().IntVar(&toY, "to-y", 0, "goal y")
	searchCmd.Flags().IntVar(&mapIndex, "map", 0, "map to search")

	schemaCmd.Flags().StringVar(&schemaOut, "out", "", "path to write the JSON schema")
	cobra.CheckErr(schemaCmd.MarkFlagRequired("out"))

	rootCmd.AddCommand(runCmd, inspectCmd, searchCmd, schemaCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx, app.Config{Path: configPath, Service: cfg})
}

func runInspect(cmd *cobra.Command, args []string) error {
	store, err := walkable.LoadFile(args[0], mapIndex)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), store.Stats())
}

type searchReport struct {
	Outcome  string        `json:"outcome"`
	Expanded int           `json:"expanded"`
	Duration string        `json:"duration"`
	Tiles    int           `json:"tiles"`
	Path     []world.Point `json:"path"`
}

func runSearch(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	grid := world.NewGrid(cfg.World)
	if !grid.SetMap(mapIndex) {
		return fmt.Errorf("map %d does not exist", mapIndex)
	}
	opts := cfg.LongDistance.Search
	opts.YieldFor = 0
	passable := longrange.WalkabilityFunc(func(x, y int) bool {
		return walkable.CheckTileWalkability(grid, x, y)
	})
	start := world.Point{X: fromX, Y: fromY}
	goal := world.Point{X: toX, Y: toY}
	res, err := longrange.Search(cmd.Context(), passable, start, goal, opts)
	if err != nil {
		return err
	}
	res = directFallback(res, passable, start, goal)
	return writeJSON(cmd.OutOrStdout(), searchReport{
		Outcome:  res.Kind.String(),
		Expanded: res.Expanded,
		Duration: res.Duration.String(),
		Tiles:    len(res.Path),
		Path:     res.Path,
	})
}

// directFallback replaces an empty result with a straight walk towards goal,
// the same way the coordinator does.
func directFallback(res longrange.Result, grid longrange.Walkability, start, goal world.Point) longrange.Result {
	if res.Kind != longrange.None {
		return res
	}
	res.Kind = longrange.Direct
	res.Path = longrange.DirectLine(grid, start, goal)
	return res
}

func runSchema(cmd *cobra.Command, _ []string) error {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(new(config.Config))
	schema.Title = "longwalk configuration"
	schema.Description = "Validates the YAML file passed to longwalk --config"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(schemaOut), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}
	tmpPath := schemaOut + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}
	if err := os.Rename(tmpPath, schemaOut); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", schemaOut)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func executeContext(ctx context.Context, args ...string) error {
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}
