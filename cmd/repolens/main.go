package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"repolens/internal/config"
	"repolens/internal/llm"
	"repolens/internal/phases"
	"repolens/internal/report"
	"repolens/internal/scan"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Analyze flags
	outputDir string
	offline   bool
	finalName string
	treeDepth int

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "repolens",
	Short: "repolens - multi-phase LLM repository analysis",
	Long: `repolens analyzes a software repository through a six-phase pipeline:

  1. Discovery: three concurrent agents survey structure, dependencies, tech stack
  2. Planning: the model partitions files into specialist analysis agents
  3. Deep Analysis: each agent examines its files in token-bounded batches
  4. Synthesis: agent findings are merged
  5. Consolidation: the synthesis is folded into one report
  6. Final: the consolidated report becomes project guidance

Artifacts land in an output directory: one markdown file per phase, a
metrics summary, and the final document with the project tree appended.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// analyzeCmd runs the full pipeline against a repository
var analyzeCmd = &cobra.Command{
	Use:   "analyze [path]",
	Short: "Run the full analysis pipeline against a repository",
	Long: `Scans the repository, runs all six phases, and writes the artifacts.

Provider credentials come from the environment (GEMINI_API_KEY or
OPENAI_API_KEY) or the config file. With --offline a deterministic stub
provider is used instead, which exercises the whole pipeline without
any network calls.

Example:
  repolens analyze . --output ./analysis
  repolens analyze ~/src/project --offline`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

// treeCmd prints the delimited project tree
var treeCmd = &cobra.Command{
	Use:   "tree [path]",
	Short: "Print the project tree the pipeline would send to the model",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTree,
}

// initConfigCmd writes the default config file
var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write the default configuration file",
	Long: `Writes the default configuration to the --config path so the model
assignments, batching knobs, and runner limits can be edited.`,
	RunE: runInitConfig,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "repolens.yaml", "Configuration file path")

	analyzeCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (default: the repository path)")
	analyzeCmd.Flags().BoolVar(&offline, "offline", false, "Use the deterministic stub provider (no network calls)")
	analyzeCmd.Flags().StringVar(&finalName, "final-name", report.DefaultFinalName, "Filename of the final document")
	analyzeCmd.Flags().IntVar(&treeDepth, "tree-depth", 0, "Maximum tree depth (0 = default)")

	treeCmd.Flags().IntVar(&treeDepth, "tree-depth", 0, "Maximum tree depth (0 = default)")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(initConfigCmd)
}

func repoRoot(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

// newCaller picks the provider: stub when offline, Gemini when a key is
// present, otherwise an OpenAI-compatible endpoint.
func newCaller(ctx context.Context, cfg *config.Config) (llm.Caller, error) {
	if offline {
		return llm.NewStubCaller(), nil
	}
	if cfg.Providers.GeminiAPIKey != "" {
		return llm.NewGeminiCaller(ctx, cfg.Providers.GeminiAPIKey, logger)
	}
	if cfg.Providers.OpenAIAPIKey != "" {
		return llm.NewOpenAICaller(cfg.Providers.OpenAIAPIKey, cfg.Providers.OpenAIBaseURL, logger)
	}
	return nil, fmt.Errorf("no provider credentials found: set GEMINI_API_KEY or OPENAI_API_KEY, or pass --offline")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	root := repoRoot(args)
	if _, err := os.Stat(root); err != nil {
		return fmt.Errorf("cannot access repository path: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	caller, err := newCaller(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info("provider selected", zap.String("provider", caller.Name()))

	scanner := scan.NewScanner(logger)
	paths, err := scanner.List(root)
	if err != nil {
		return fmt.Errorf("failed to scan repository: %w", err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no analyzable files found under %s", root)
	}
	logger.Info("repository scanned", zap.Int("files", len(paths)))

	tree, err := scanner.Tree(root, treeDepth)
	if err != nil {
		return fmt.Errorf("failed to render project tree: %w", err)
	}

	files, err := scanner.ReadAll(ctx, root, paths, cfg.Runner.MaxConcurrent)
	if err != nil {
		return fmt.Errorf("failed to read repository files: %w", err)
	}

	runner := phases.NewRunner(caller, cfg, logger)
	res, err := runner.Run(ctx, phases.Input{
		Tree:      tree,
		Files:     files,
		Manifests: scan.DetectManifests(paths),
	})
	if err != nil {
		return fmt.Errorf("analysis run failed: %w", err)
	}

	dir := outputDir
	if dir == "" {
		dir = root
	}
	writer := report.NewWriter(logger)
	writer.FinalName = finalName
	if err := writer.Write(dir, res, cfg.Models, tree); err != nil {
		return err
	}

	fmt.Printf("Analysis complete: run %s, %d files, %d analysis units\n",
		res.RunID, len(files), len(res.Analysis))
	for _, w := range res.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	fmt.Printf("Artifacts written to %s\n", dir)
	return nil
}

func runTree(cmd *cobra.Command, args []string) error {
	scanner := scan.NewScanner(logger)
	tree, err := scanner.Tree(repoRoot(args), treeDepth)
	if err != nil {
		return fmt.Errorf("failed to render project tree: %w", err)
	}
	fmt.Println(strings.Join(tree, "\n"))
	return nil
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists at %s", configPath)
	}
	if err := config.DefaultConfig().Save(configPath); err != nil {
		return err
	}
	fmt.Printf("Default configuration written to %s\n", configPath)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
