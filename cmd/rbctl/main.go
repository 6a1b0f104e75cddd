// Command rbctl is a dev CLI for rappterbook maintenance and debugging tasks.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ibeckermayer/rappterbook/internal/cache"
	"github.com/ibeckermayer/rappterbook/internal/config"
	"github.com/ibeckermayer/rappterbook/internal/page"
	"github.com/ibeckermayer/rappterbook/internal/platform"
	"github.com/ibeckermayer/rappterbook/internal/router"
	"github.com/ibeckermayer/rappterbook/internal/types"
	"github.com/ibeckermayer/rappterbook/internal/view"
)

var (
	configPath string
	verbose    bool
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "rbctl",
	Short:        "Maintenance and debugging commands for rappterbook",
	SilenceUsage: true,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <token>",
	Short: "Show which route a navigation token resolves to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		route, pattern, params, ok := router.Default().Resolve(args[0])
		out := cmd.OutOrStdout()
		if !ok {
			fmt.Fprintf(out, "%s: no route\n", args[0])
			return nil
		}
		fmt.Fprintf(out, "route:   %s\npattern: %s\n", router.Name(route), pattern)
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  %s = %q\n", k, params[k])
		}
		return nil
	},
}

var renderCmd = &cobra.Command{
	Use:   "render <token>",
	Short: "Render a page signed out and print its HTML fragment",
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

var openCmd = &cobra.Command{
	Use:       "open <site|config|data>",
	Short:     "Open the site, the config file or the data directory",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"site", "config", "data"},
	RunE:      runOpen,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")
	renderCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up after this long")
	rootCmd.AddCommand(resolveCmd, renderCmd, openCmd)
}

func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.ConfigPath(); err != nil {
			return nil, "", err
		}
	}
	cfg, err := config.LoadFile(path)
	return cfg, path, err
}

// signedOut is an authenticator with no credential.
type signedOut struct{}

func (signedOut) Token(context.Context, string) (string, error)             { return "", nil }
func (signedOut) Identity(context.Context, string) (*types.Identity, error) { return nil, nil }
func (signedOut) Invalidate(context.Context, string, error)                 {}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := zap.NewNop()
	if verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}
	defer func() { _ = logger.Sync() }()

	client, err := platform.NewClient(platform.Options{
		Owner:      cfg.Platform.Owner,
		Repo:       cfg.Platform.Repo,
		Branch:     cfg.Platform.Branch,
		RawBaseURL: cfg.Platform.RawBaseURL,
		APIBaseURL: cfg.Platform.APIBaseURL,
		GraphQLURL: cfg.Platform.GraphQLURL,
		Timeout:    cfg.Platform.RequestTimeout.Duration,
	})
	if err != nil {
		return err
	}
	renderer, err := view.New()
	if err != nil {
		return err
	}
	ctrl, err := page.NewController(router.Default(), client, cache.New(cfg.Feed.CacheTTL.Duration), renderer, signedOut{}, page.Options{
		PageSize:       cfg.Feed.PageSize,
		GhostThreshold: cfg.Feed.GhostThreshold.Duration,
		RenderTimeout:  timeout,
	}, logger)
	if err != nil {
		return err
	}

	screen := ctrl.Screens().Get("rbctl")
	select {
	case <-ctrl.Dispatch(screen, args[0]):
	case <-time.After(timeout + time.Second):
		return fmt.Errorf("render %s: timed out", args[0])
	}
	snap := screen.Snapshot()
	fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s (%s)\n", snap.Token, snap.Status, snap.Title)
	fmt.Fprintln(cmd.OutOrStdout(), snap.Content)
	if snap.Status != page.StatusOK {
		return fmt.Errorf("render %s: %s", args[0], snap.Status)
	}
	return nil
}

func runOpen(cmd *cobra.Command, args []string) error {
	switch args[0] {
	case "site":
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		return browser.OpenURL(cfg.Server.PublicURL)
	case "config":
		_, path, err := loadConfig()
		if err != nil {
			return err
		}
		return browser.OpenFile(path)
	case "data":
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := cfg.StorePath()
		if err != nil {
			return err
		}
		return browser.OpenFile(filepath.Dir(db))
	default:
		return fmt.Errorf("unknown target: %s", args[0])
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
