package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gator-chat/internal/config"
	"gator-chat/internal/database"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		jww.FATAL.Printf("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gator-chat",
		Short:         "Realtime one-to-one chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("host", "", "address to listen on (overrides HOST)")
	root.PersistentFlags().Int("port", 0, "port to listen on (overrides PORT)")
	root.PersistentFlags().String("db", "", "storage backend: memory, postgres or mongo (overrides DB_TYPE)")
	bindFlag(root, "HOST", "host")
	bindFlag(root, "PORT", "port")
	bindFlag(root, "DB_TYPE", "db")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newImportCmd())
	return root
}

// bindFlag lets a flag override the env key, but only when it was set.
func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		jww.ERROR.Printf("Binding --%s: %v", flag, err)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	InitLog(cfg.Debug, cfg.LogFile)
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the tables and indexes of the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			db, err := database.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close(ctx)
			if err := db.InitializeTables(ctx); err != nil {
				return err
			}
			jww.INFO.Printf("Initialized %s store", cfg.Database.Type)
			return nil
		},
	}
}

func newImportCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Copy users, friendships and messages from a legacy JSON data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			db, err := database.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close(ctx)
			if err := db.InitializeTables(ctx); err != nil {
				return err
			}
			report, err := database.ImportLegacy(ctx, db, dir, time.Now().UTC())
			if err != nil {
				return err
			}
			jww.INFO.Printf("Imported %d users, %d friendships, %d messages (%d already present)",
				report.Users, report.Friendships, report.Messages, report.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "data", "directory holding users.json, friends.json and messages.json")
	return cmd
}
