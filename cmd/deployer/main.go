package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowdeploy-go/internal/services/deploy"
	"github.com/flowdeploy-go/internal/services/injector"
	"github.com/flowdeploy-go/internal/services/platform"
	"github.com/flowdeploy-go/internal/services/resolver"
	"github.com/flowdeploy-go/internal/services/store"
	"github.com/flowdeploy-go/internal/services/validator"
	"github.com/flowdeploy-go/pkg/config"
	"github.com/flowdeploy-go/pkg/logger"
)

var (
	flagBindingsFile   string
	flagSet            []string
	flagDryRun         bool
	flagCheckResources bool
	flagPermissive     bool
	flagActivate       bool
	flagConcurrency    int
	flagCategory       string
	flagHistoryLimit   int
)

var rootCmd = &cobra.Command{
	Use:   "deployer",
	Short: "Deploys parameterized workflow templates to a workflow-automation platform",
	Long: `deployer injects tenant-specific values into workflow templates,
validates the resulting graphs, orders interdependent templates, and
deploys them to the platform over its REST API.

Configuration comes from ./configs/deployer.yaml and FLOWDEPLOY_*
environment variables (FLOWDEPLOY_PLATFORM_BASE_URL is required).`,
}

var deployCmd = &cobra.Command{
	Use:   "deploy <template-id>...",
	Short: "Deploy one or more templates",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}

		bindings, err := loadBindings()
		if err != nil {
			return err
		}

		orch, err := buildOrchestrator(cfg, log)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		concurrency := flagConcurrency
		if concurrency == 0 {
			concurrency = cfg.Deploy.Concurrency
		}

		report, runErr := orch.Run(ctx, deploy.Request{
			TemplateIDs:    args,
			Bindings:       bindings,
			DryRun:         flagDryRun || cfg.Deploy.DryRun,
			CheckResources: flagCheckResources,
			Permissive:     flagPermissive || cfg.Deploy.Permissive,
			Activate:       flagActivate,
			Concurrency:    concurrency,
		})

		if report != nil {
			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
		}
		return runErr
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates available in the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}

		st := store.New(cfg.Store.Dir, log)
		var ids []string
		if flagCategory != "" {
			ids, err = st.ListByCategory(flagCategory)
		} else {
			ids, err = st.List()
		}
		if err != nil {
			return err
		}

		for _, id := range ids {
			tpl, err := st.Get(id)
			if err != nil {
				return err
			}
			fmt.Printf("%-30s %-14s deps=%v vars=%v\n", id, tpl.Category, tpl.DependsOn, tpl.Variables)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent deployment runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := bootstrap()
		if err != nil {
			return err
		}

		hist, err := deploy.OpenHistory(cfg.History.Path)
		if err != nil {
			return err
		}

		runs, err := hist.ListRuns(cmd.Context(), flagHistoryLimit)
		if err != nil {
			return err
		}

		for _, run := range runs {
			fmt.Printf("%s  %-16s  %s  %s\n",
				run.RunID, run.State,
				run.StartedAt.Format("2006-01-02 15:04:05"),
				run.Error)
		}
		return nil
	},
}

func bootstrap() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.Config{
		Level:     cfg.Logger.Level,
		Format:    cfg.Logger.Format,
		Output:    cfg.Logger.Output,
		AddCaller: cfg.Logger.AddCaller,
	})
	return cfg, log, nil
}

func buildOrchestrator(cfg *config.Config, log logger.Logger) (*deploy.Orchestrator, error) {
	var history *deploy.History
	if cfg.History.Enabled {
		var err error
		history, err = deploy.OpenHistory(cfg.History.Path)
		if err != nil {
			return nil, err
		}
	}

	return deploy.NewOrchestrator(
		store.New(cfg.Store.Dir, log),
		injector.New(log),
		validator.New(log, nil),
		resolver.New(log),
		platform.NewClient(cfg.Platform, log),
		history,
		log,
	), nil
}

// loadBindings merges a bindings file with --set overrides. Override values
// are parsed as JSON when they look like it, otherwise taken as strings.
func loadBindings() (injector.Bindings, error) {
	bindings := injector.Bindings{}

	if flagBindingsFile != "" {
		data, err := os.ReadFile(flagBindingsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read bindings file: %w", err)
		}
		if err := json.Unmarshal(data, &bindings); err != nil {
			return nil, fmt.Errorf("bindings file is not a JSON object: %w", err)
		}
	}

	for _, pair := range flagSet {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set value %q, expected KEY=VALUE", pair)
		}
		var parsed interface{}
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			bindings[key] = parsed
		} else {
			bindings[key] = raw
		}
	}
	return bindings, nil
}

func init() {
	deployCmd.Flags().StringVarP(&flagBindingsFile, "bindings", "b", "", "JSON file with variable bindings")
	deployCmd.Flags().StringArrayVar(&flagSet, "set", nil, "binding override, KEY=VALUE (repeatable)")
	deployCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "validate without deploying")
	deployCmd.Flags().BoolVar(&flagCheckResources, "check-resources", false, "extend a dry run through platform resource checks")
	deployCmd.Flags().BoolVar(&flagPermissive, "permissive", false, "proceed past blocking findings and missing credentials")
	deployCmd.Flags().BoolVar(&flagActivate, "activate", false, "activate workflows after deploying")
	deployCmd.Flags().IntVar(&flagConcurrency, "concurrency", 0, "in-batch deploy parallelism (default from config)")

	listCmd.Flags().StringVar(&flagCategory, "category", "", "filter by template category")
	historyCmd.Flags().IntVar(&flagHistoryLimit, "limit", 20, "number of runs to show")

	rootCmd.AddCommand(deployCmd, listCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
