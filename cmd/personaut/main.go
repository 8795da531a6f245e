package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"personaut/internal/agent"
	"personaut/internal/bridge"
	"personaut/internal/config"
	"personaut/internal/logging"
	"personaut/internal/project"
	"personaut/internal/store"
)

var version = "dev"

var (
	// Global flags
	workspace string
	verbose   bool

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "personaut",
	Short: "personaut - staged product-definition engine",
	Long: `personaut walks a product from idea to build plan in fixed stages
(idea, users, features, team, stories, design) with an LLM generating the
content of each stage, then iterates on the designed screens with simulated
persona feedback.

Project state lives under .personaut/ in the workspace.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspace == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			workspace = cwd
		}

		var cfgErr error
		cfg, cfgErr = config.Load()

		var err error
		logger, err = logging.Init(logging.Options{
			Debug:  verbose || cfg.DebugMode,
			LogDir: filepath.Join(project.Root(workspace), "logs"),
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if cfgErr != nil {
			logger.Warn("config load failed, using defaults", zap.Error(cfgErr))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the websocket interface for UI collaborators",
	RunE: func(cmd *cobra.Command, args []string) error {
		ai, err := agent.New(cfg)
		if err != nil {
			return err
		}

		st := store.New(workspace,
			store.WithLogger(logger),
			store.WithAutosaveDebounce(cfg.AutosaveDebounce()))
		srv := bridge.NewServer(st, ai, cfg, logger)

		httpSrv := &http.Server{
			Addr:    serveAddr,
			Handler: srv.Handler(),
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logger.Info("listening", zap.String("addr", serveAddr))
			errCh <- httpSrv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	},
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List projects in the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := project.List(workspace)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("no projects yet")
			return nil
		}

		st := store.New(workspace, store.WithLogger(logger))
		for _, name := range names {
			completion, err := st.CheckProjectFiles(name)
			if err != nil {
				fmt.Printf("%s\t(unreadable: %v)\n", name, err)
				continue
			}
			fmt.Printf("%s\tcurrent stage: %s\n", name, project.DeriveCurrentStage(completion))
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate <project>",
	Short: "Migrate a project from the legacy file layout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st := store.New(workspace, store.WithLogger(logger))
		migrated, err := st.MigrateLegacyLayout(args[0])
		if err != nil {
			return err
		}
		if migrated {
			fmt.Printf("migrated %s to the planning/ layout (originals backed up)\n", args[0])
		} else {
			fmt.Printf("%s already uses the current layout\n", args[0])
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("personaut", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace root (default: current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8793", "listen address")

	rootCmd.AddCommand(serveCmd, projectsCmd, migrateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
