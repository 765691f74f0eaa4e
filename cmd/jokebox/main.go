package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mirthlab/jokebox/internal/profile"
	"github.com/mirthlab/jokebox/plugin/ai"
	"github.com/mirthlab/jokebox/server"
	"github.com/mirthlab/jokebox/server/loader"
	"github.com/mirthlab/jokebox/server/retrieval"
	"github.com/mirthlab/jokebox/server/router/mcpserver"
	"github.com/mirthlab/jokebox/store"
	"github.com/mirthlab/jokebox/store/db"
)

var version = "0.1.0"

// app bundles the long-lived components every command starts from.
type app struct {
	profile  *profile.Profile
	store    *store.Store
	embedder ai.EmbeddingService
	engine   *retrieval.Engine
}

var rootCmd = &cobra.Command{
	Use:   "jokebox",
	Short: "Semantic joke retrieval service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}

		s := server.NewServer(a.profile, a.store, a.engine)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			slog.Info("shutting down")
			s.Shutdown(ctx)
			cancel()
		}()

		slog.Info("jokebox started",
			slog.String("version", version),
			slog.String("driver", a.profile.Driver),
			slog.String("addr", a.profile.Addr),
			slog.Int("port", a.profile.Port))
		return s.Start(ctx)
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import jokes from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.store.Close()

		regenerate, _ := cmd.Flags().GetBool("regenerate-embeddings")
		result, err := loader.New(a.store, a.embedder).ImportFile(ctx, args[0], regenerate)
		if err != nil {
			return err
		}
		fmt.Printf("imported %d jokes (%d embedded, %d skipped)\n",
			result.Processed, result.Embedded, result.Skipped)
		return nil
	},
}

var mcpStdioCmd = &cobra.Command{
	Use:   "mcp-stdio",
	Short: "Serve the MCP server over stdio",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.store.Close()

		mcpSrv := mcpserver.NewServer(a.engine, a.profile.Version)
		return mcpSrv.Run(ctx, &mcp.StdioTransport{})
	},
}

func bootstrap(ctx context.Context) (*app, error) {
	instanceProfile := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Addr:    viper.GetString("addr"),
		Port:    viper.GetInt("port"),
		Data:    viper.GetString("data"),
		Driver:  viper.GetString("driver"),
		DSN:     viper.GetString("dsn"),
		Version: version,
	}
	instanceProfile.FromEnv()
	if err := instanceProfile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	embedder, err := embedderFromProfile(instanceProfile)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding service: %w", err)
	}
	if _, isMock := embedder.(*ai.MockEmbeddingService); !isMock {
		// A dead embedding model is fatal at startup, never retried per call.
		if err := ai.Validate(ctx, embedder); err != nil {
			return nil, err
		}
	}

	// The mongo driver shares this embedder for its text-only search path.
	dbDriver, err := db.NewDBDriver(instanceProfile, embedder)
	if err != nil {
		return nil, fmt.Errorf("failed to create db driver: %w", err)
	}
	st := store.New(dbDriver, instanceProfile)
	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	return &app{
		profile:  instanceProfile,
		store:    st,
		embedder: embedder,
		engine:   retrieval.NewEngine(st, embedder, instanceProfile),
	}, nil
}

// embedderFromProfile picks the deterministic offline embedder in dev mode
// without an API key, and the configured remote model otherwise. Outside
// keyless dev a misconfigured provider is fatal: the server must never serve
// mock vectors by accident.
func embedderFromProfile(p *profile.Profile) (ai.EmbeddingService, error) {
	if p.EmbeddingAPIKey == "" && p.IsDev() {
		slog.Warn("no embedding api key set, using the deterministic mock embedder")
		return ai.NewMockEmbeddingService(p.EmbeddingDimensions), nil
	}
	return ai.NewEmbeddingService(p)
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("addr", "")
	viper.SetDefault("port", 8081)
	viper.SetDefault("data", ".")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of the server, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().String("addr", "", "address of the server")
	rootCmd.PersistentFlags().Int("port", 8081, "port of the server")
	rootCmd.PersistentFlags().String("data", ".", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", `storage backend, can be "postgres", "sqlite" or "mongo"`)
	rootCmd.PersistentFlags().String("dsn", "", "database connection string")

	for _, key := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		_ = viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key))
	}
	viper.SetEnvPrefix("jokebox")
	viper.AutomaticEnv()

	importCmd.Flags().Bool("regenerate-embeddings", false, "re-embed jokes that already exist")
	rootCmd.AddCommand(importCmd, mcpStdioCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
