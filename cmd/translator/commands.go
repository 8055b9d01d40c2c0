package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/api"
	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/app"
	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/computemodule"
	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/records"
	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/version"
	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/foundry"
)

// addTranslationFlags defines the flags shared by every translating command. Unset flags
// fall through to the config file, environment and built-in defaults.
func addTranslationFlags(fs *pflag.FlagSet) {
	fs.String("target-lang", "", "Target language code, e.g. fr (translation.target_lang)")
	fs.Int("concurrent-requests", 0, "Max translation requests in flight (default 1000)")
	fs.Int("throttle-every", 0, "Pause before every Nth task, 0 keeps the configured value (default 1500)")
	fs.Duration("request-delay", 0, "Length of the periodic pause (default 500ms)")
	fs.Int("retry-attempts", 0, "Retries after the first failed attempt (default 3)")
	fs.Duration("backoff-base", 0, "First retry delay; doubles per retry (default 1s)")
	fs.Duration("request-timeout", 0, "Timeout of a single translation request (default 30s)")
	fs.Float64("rate-limit-rps", 0, "Global request start rate limit, 0 disables")
	fs.String("provider", "", "Translation service: gtx|gemini (default gtx)")
	fs.String("gemini-model", "", "Gemini model name (env: GEMINI_MODEL)")
	fs.String("redis-addr", "", "Redis host:port for the translation cache, empty disables")
}

func newLocalCmd(ro *rootOptions) *cobra.Command {
	var (
		all    bool
		ids    []string
		output string
		format string
	)
	cmd := &cobra.Command{
		Use:   "local <file>...",
		Short: "Translate game data exports into a report file",
		Long: `Extract records from .json exports (Id, GeDesc, DurationPolicy) and .txt
exports (lines like "Id: 1407 (1)"), translate the JSON descriptions and
write one report section per file.

Select records with --all, or with --ids matching id prefixes.`,
		Example: `  translator local buffs.json ids.txt --all --target-lang fr
  translator local buffs.json --ids 14,15 --target-lang de --format csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ro.setup(cmd)
			if err != nil {
				return err
			}
			if cfg.Translation.TargetLang == "" {
				return usageErrorf("local requires --target-lang")
			}

			sel := records.All()
			if !all {
				sel = records.ByPrefix(ids...)
				if len(sel.Prefixes()) == 0 {
					return usageErrorf("--ids must name at least one id prefix")
				}
			}

			tr, closeFn, err := app.NewTranslator(cmd.Context(), *cfg, logger)
			if err != nil {
				return usageErrorf("translator setup: %w", err)
			}
			defer func() { _ = closeFn() }()

			path, err := app.RunLocal(cmd.Context(), app.LocalOptions{
				Files:      args,
				Selector:   sel,
				TargetLang: cfg.Translation.TargetLang,
				OutputPath: output,
				Format:     format,
			}, tr, cfg.PipelineOptions(), logger)
			if err != nil {
				return fmt.Errorf("local run failed: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Select every record")
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "Comma-separated id prefixes to select")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (default derived from the selection)")
	cmd.Flags().StringVar(&format, "format", app.FormatMarkdown, "Output format: md|csv")
	cmd.MarkFlagsMutuallyExclusive("all", "ids")
	cmd.MarkFlagsOneRequired("all", "ids")
	addTranslationFlags(cmd.Flags())
	return cmd
}

func newFoundryCmd(ro *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "foundry",
		Short: "Translate a Foundry input dataset into an output dataset",
		Long: `Run in Foundry pipeline mode. The input dataset needs "id" and
"source_text" columns ("metadata" is optional). Rows translated into the
same language by a previous run are reused.

Environment:
  FOUNDRY_SERVICE_DISCOVERY_V2  Service discovery YAML file (or FOUNDRY_URL)
  BUILD2_TOKEN                  File containing a bearer token
  RESOURCE_ALIAS_MAP            File containing alias -> {rid, branch} JSON`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := ro.setup(cmd)
			if err != nil {
				return err
			}
			if cfg.Translation.TargetLang == "" {
				return usageErrorf("foundry requires --target-lang")
			}
			env, err := foundry.LoadEnv()
			if err != nil {
				return usageErrorf("foundry env: %w", err)
			}

			tr, closeFn, err := app.NewTranslator(cmd.Context(), *cfg, logger)
			if err != nil {
				return usageErrorf("translator setup: %w", err)
			}
			defer func() { _ = closeFn() }()

			err = app.RunFoundry(cmd.Context(), env, app.FoundryOptions{
				InputAlias:     cfg.Foundry.InputAlias,
				OutputAlias:    cfg.Foundry.OutputAlias,
				OutputFilename: cfg.Foundry.OutputFilename,
				TargetLang:     cfg.Translation.TargetLang,
			}, tr, cfg.PipelineOptions(), logger)
			if err != nil {
				return fmt.Errorf("foundry run failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().String("input-alias", "", "Input dataset alias in RESOURCE_ALIAS_MAP (default input)")
	cmd.Flags().String("output-alias", "", "Output dataset alias in RESOURCE_ALIAS_MAP (default output)")
	cmd.Flags().String("output-filename", "", "File name written into the output dataset (default translations.csv)")
	addTranslationFlags(cmd.Flags())
	return cmd
}

func newServeCmd(ro *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve POST /v1/translations over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := ro.setup(cmd)
			if err != nil {
				return err
			}
			tr, closeFn, err := app.NewTranslator(cmd.Context(), *cfg, logger)
			if err != nil {
				return usageErrorf("translator setup: %w", err)
			}
			defer func() { _ = closeFn() }()

			h := api.NewHandler(tr, cfg.PipelineOptions(), cfg.Server.MaxTexts, logger)
			return api.Serve(cmd.Context(), cfg.Server.Addr, api.NewRouter(h), logger)
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default :8080)")
	addTranslationFlags(cmd.Flags())
	return cmd
}

func newJobsCmd(ro *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Answer Foundry compute module jobs",
		Long: `Poll GET_JOB_URI for jobs whose query is a translation batch (the
POST /v1/translations body) and post each answer to POST_RESULT_URI.

Environment:
  GET_JOB_URI        Job endpoint
  POST_RESULT_URI    Result endpoint
  MODULE_AUTH_TOKEN  Module token, or a file containing it
  DEFAULT_CA_PATH    Optional PEM bundle to trust`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := ro.setup(cmd)
			if err != nil {
				return err
			}
			cmCfg, ok, err := computemodule.LoadConfigFromEnv()
			if err != nil {
				return usageErrorf("compute module env: %w", err)
			}
			if !ok {
				return usageErrorf("jobs requires GET_JOB_URI and POST_RESULT_URI")
			}

			tr, closeFn, err := app.NewTranslator(cmd.Context(), *cfg, logger)
			if err != nil {
				return usageErrorf("translator setup: %w", err)
			}
			defer func() { _ = closeFn() }()

			client, err := computemodule.NewClient(cmCfg, logger)
			if err != nil {
				return usageErrorf("compute module client: %w", err)
			}
			h := api.NewHandler(tr, cfg.PipelineOptions(), cfg.Server.MaxTexts, logger)
			err = client.Run(cmd.Context(), app.TranslationJobHandler(h))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	addTranslationFlags(cmd.Flags())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "translator %s\n", strings.TrimSpace(version.Current))
		},
	}
}
