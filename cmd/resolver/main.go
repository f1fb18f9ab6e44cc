package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nutrimap/resolver/config"
	"github.com/nutrimap/resolver/internal/delivery/emit"
	httpDelivery "github.com/nutrimap/resolver/internal/delivery/http"
	"github.com/nutrimap/resolver/internal/domain"
	"github.com/nutrimap/resolver/internal/infrastructure/cache"
	"github.com/nutrimap/resolver/internal/infrastructure/fdc"
	"github.com/nutrimap/resolver/internal/infrastructure/llm"
	"github.com/nutrimap/resolver/internal/usecase"
)

const version = "1.0.0"

var verbose bool

func main() {
	root := &cobra.Command{
		Use:           "nutrimap-resolver",
		Short:         "Resolve recipe ingredients to USDA FoodData Central foods",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newResolveCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newMappingsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}

// pipeline bundles the wired resolution stages.
type pipeline struct {
	resolver *usecase.Resolver
	mappings *usecase.MappingStore
	config   *config.Config
}

// buildPipeline wires every stage from configuration. A missing LLM key is
// not an error; the affected stages run on their deterministic fallbacks.
func buildPipeline(logger zerolog.Logger) (*pipeline, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	catalog, err := fdc.NewClient(cfg.FDC.APIKey, cfg.FDC.BaseURL, cfg.FDC.RateDelay, cfg.FDC.Timeout, logger)
	if err != nil {
		return nil, err
	}

	var chat domain.ChatClient
	if client := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, logger); client != nil {
		chat = client
	} else {
		logger.Warn().Msg("no LLM API key configured, running with deterministic fallbacks")
	}

	mappings, err := usecase.NewMappingStore(cfg.Paths.CuratedMappings, logger)
	if err != nil {
		return nil, err
	}

	intentCache, err := cache.NewIntentCache(cfg.Paths.IntentCache, logger)
	if err != nil {
		return nil, err
	}

	normalizer, err := loadNormalizer(cfg)
	if err != nil {
		return nil, err
	}

	intents := usecase.NewIntentGenerator(chat, intentCache, logger)
	retries := usecase.NewRetryStrategist(cfg.Pipeline.CategoryRetries, logger)
	searcher := usecase.NewTierSearcher(catalog, usecase.NewRelevanceScorer(), logger)
	verifier := usecase.NewSemanticVerifier(chat, cache.NewScoreCache(), cfg.Pipeline.TopCandidates, logger)
	gate := usecase.NewNutritionalGate(catalog, chat, normalizer, nil, logger)

	resolver := usecase.NewResolver(mappings, intents, retries, searcher, verifier, gate,
		normalizer, catalog, cfg.Pipeline.MaxAttempts, logger)

	return &pipeline{resolver: resolver, mappings: mappings, config: cfg}, nil
}

func loadNormalizer(cfg *config.Config) (*usecase.NutrientNormalizer, error) {
	if cfg.Paths.NutrientDefinitions != "" {
		return usecase.NewNutrientNormalizerFromFile(cfg.Paths.NutrientDefinitions)
	}
	return usecase.NewNutrientNormalizer()
}

func newResolveCmd() *cobra.Command {
	var (
		inputFormat  string
		outputPath   string
		outputFormat string
		limit        int
		startFrom    int
		noTimestamp  bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <input-file>",
		Short: "Resolve a batch of ingredients from a CSV, TXT or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			p, err := buildPipeline(logger)
			if err != nil {
				return err
			}

			ingredients, err := emit.LoadIngredients(args[0], inputFormat)
			if err != nil {
				return err
			}
			if startFrom > 0 {
				if startFrom >= len(ingredients) {
					return fmt.Errorf("start-from %d is beyond the %d loaded ingredients", startFrom, len(ingredients))
				}
				ingredients = ingredients[startFrom:]
			}
			if limit > 0 && limit < len(ingredients) {
				ingredients = ingredients[:limit]
			}
			if len(ingredients) == 0 {
				return fmt.Errorf("no ingredients found in %s", args[0])
			}
			logger.Info().Int("count", len(ingredients)).Str("input", args[0]).Msg("ingredients loaded")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			total := len(ingredients)
			onProgress := func(done int, _ []*domain.ResultRecord) {
				logger.Info().Int("done", done).Int("total", total).Msg("progress")
			}
			runner := usecase.NewBatchRunner(p.resolver, p.config.Pipeline.Parallelism, 10, onProgress, logger)
			records, failed, stats := runner.Run(ctx, ingredients)

			finalPath := outputPath
			if !noTimestamp {
				finalPath = emit.TimestampedPath(outputPath, time.Now())
			}
			if err := emit.WriteResults(resolvedOnly(records), finalPath, outputFormat); err != nil {
				return err
			}
			if err := emit.WriteFailed(failed, emit.FailedPath(finalPath)); err != nil {
				return err
			}

			logger.Info().
				Int("total", stats.Total).
				Int("successful", stats.Successful).
				Int("failed", stats.Failed).
				Int("from_mappings", stats.FromMappings).
				Int("from_search", stats.FromSearch).
				Int("no_mapping", stats.NoMapping).
				Str("output", finalPath).
				Msg("batch complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&inputFormat, "input-format", "auto", "input format: csv, txt, json or auto")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "output/nutrition_results.csv", "output file path")
	cmd.Flags().StringVarP(&outputFormat, "format", "f", emit.FormatCSV, "output format: csv, csv-standard, csv-debug, json, json-debug, json-clean or json-batch")
	cmd.Flags().IntVar(&limit, "limit", 0, "resolve at most this many ingredients (0 = all)")
	cmd.Flags().IntVar(&startFrom, "start-from", 0, "skip this many ingredients before resolving")
	cmd.Flags().BoolVar(&noTimestamp, "no-timestamp", false, "write to the output path as given, without a timestamp suffix")
	return cmd
}

// resolvedOnly drops slots left nil by a canceled run.
func resolvedOnly(records []*domain.ResultRecord) []*domain.ResultRecord {
	out := make([]*domain.ResultRecord, 0, len(records))
	for _, record := range records {
		if record != nil {
			out = append(out, record)
		}
	}
	return out
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the resolution pipeline as an HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			p, err := buildPipeline(logger)
			if err != nil {
				return err
			}

			results := cache.NewResultCache(p.config.Server.ResultCacheTTL)
			handler := httpDelivery.NewHandler(p.resolver, p.mappings, results, logger)
			router := httpDelivery.SetupRouter(p.config, handler, logger)

			addr := ":" + p.config.Server.Port
			logger.Info().Str("addr", addr).Str("environment", p.config.Server.Environment).Msg("server listening")
			return router.Run(addr)
		},
	}
}

func newMappingsCmd() *cobra.Command {
	mappings := &cobra.Command{
		Use:   "mappings",
		Short: "Manage curated ingredient mappings",
	}

	var (
		fdcID       int
		description string
		dataType    string
		notes       string
	)
	add := &cobra.Command{
		Use:   "add <ingredient>",
		Short: "Add or replace a curated mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := usecase.NewMappingStore(cfg.Paths.CuratedMappings, logger)
			if err != nil {
				return err
			}

			entry := domain.MappingEntry{
				FdcID:       fdcID,
				Description: description,
				DataType:    dataType,
				Verified:    true,
				Notes:       notes,
			}
			if err := store.Save(args[0], entry); err != nil {
				return err
			}
			logger.Info().Str("ingredient", args[0]).Int("fdc_id", fdcID).Msg("curated mapping saved")
			return nil
		},
	}
	add.Flags().IntVar(&fdcID, "fdc-id", 0, "FDC ID to map the ingredient to")
	add.Flags().StringVar(&description, "description", "", "catalog description of the mapped food")
	add.Flags().StringVar(&dataType, "data-type", "", "FDC data type of the mapped food")
	add.Flags().StringVar(&notes, "notes", "", "free-form note on why this mapping exists")
	_ = add.MarkFlagRequired("fdc-id")
	_ = add.MarkFlagRequired("description")

	var (
		findPageSize int
		findDataType string
	)
	find := &cobra.Command{
		Use:   "find <query>",
		Short: "Search the catalog for mapping candidates, best match first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			catalog, err := fdc.NewClient(cfg.FDC.APIKey, cfg.FDC.BaseURL, cfg.FDC.RateDelay, cfg.FDC.Timeout, logger)
			if err != nil {
				return err
			}

			pageSize := findPageSize
			if pageSize <= 0 {
				pageSize = cfg.FDC.DefaultPageSize
			}
			dataTypeFilter := findDataType
			if dataTypeFilter == "" {
				dataTypeFilter = cfg.FDC.DefaultDataType
			}

			page, err := catalog.Search(cmd.Context(), args[0], pageSize, dataTypeFilter)
			if err != nil {
				return err
			}
			if page == nil || len(page.Foods) == 0 {
				return fmt.Errorf("no catalog results for %q", args[0])
			}

			scorer := usecase.NewRelevanceScorer()
			type candidate struct {
				food    domain.FDCFood
				penalty int
			}
			candidates := make([]candidate, 0, len(page.Foods))
			for i, food := range page.Foods {
				penalty := scorer.Penalty(food, args[0], i, nil)
				if penalty > cfg.Pipeline.MaxAcceptablePenalty {
					continue
				}
				candidates = append(candidates, candidate{food: food, penalty: penalty})
			}
			if len(candidates) == 0 {
				return fmt.Errorf("no results for %q within penalty %d", args[0], cfg.Pipeline.MaxAcceptablePenalty)
			}
			sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].penalty < candidates[j].penalty })

			for _, c := range candidates {
				fmt.Printf("%8d  %-16s  penalty %4d  %s\n", c.food.FdcID, c.food.DataType, c.penalty, c.food.Description)
			}
			return nil
		},
	}
	find.Flags().IntVar(&findPageSize, "page-size", 0, "catalog rows to fetch (0 = configured default)")
	find.Flags().StringVar(&findDataType, "data-type", "", "comma-separated data types to search (empty = configured default)")

	mappings.AddCommand(add)
	mappings.AddCommand(find)
	return mappings
}
