package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MapleGroveLabs/sproutlog/backend/internal/auth"
	"github.com/MapleGroveLabs/sproutlog/backend/internal/catalog"
	"github.com/MapleGroveLabs/sproutlog/backend/internal/cloudsync"
	"github.com/MapleGroveLabs/sproutlog/backend/internal/config"
	"github.com/MapleGroveLabs/sproutlog/backend/internal/database"
	"github.com/MapleGroveLabs/sproutlog/backend/internal/journal"
	"github.com/MapleGroveLabs/sproutlog/backend/internal/logging"
	"github.com/MapleGroveLabs/sproutlog/backend/internal/server"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sproutlog-api",
		Short: "Sproutlog activity journal backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("remote-database-url", "", "Postgres URL for cloud sync (empty disables sync)")
	cmd.PersistentFlags().Duration("token-ttl", defaults.GetDuration("auth.token_ttl"), "Backend token TTL")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "remote.database_url", "remote-database-url")
	bindFlag(cmd, "auth.token_ttl", "token-ttl")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	ledger, err := journal.NewLedger(journal.LedgerConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: journal.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	entries, err := journal.NewEntryStore(journal.EntryStoreConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	replayer, err := journal.NewReplayer(journal.ReplayerConfig{
		Ledger:  ledger,
		Entries: entries,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	recovery, err := journal.NewRecovery(journal.RecoveryConfig{
		Ledger:   ledger,
		Entries:  entries,
		Replayer: replayer,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	// Startup halts on a corrupt ledger. Serving requests against state
	// that cannot be proven consistent with the event history is worse
	// than refusing to start.
	if err := recovery.EnsureConsistent(ctx); err != nil {
		logger.Error("startup consistency check failed", zap.Error(err))
		return err
	}

	recorder, err := journal.NewRecorder(journal.RecorderConfig{
		Ledger:  ledger,
		Entries: entries,
		Clock:   time.Now,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	catalogStore, err := catalog.NewStore(catalog.StoreConfig{Database: db})
	if err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "sproutlog-auth",
		Audience:      "sproutlog-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	var cloudSyncer server.CloudSyncer
	if appConfig.RemoteDatabaseURL != "" {
		if err := cloudsync.Migrate(appConfig.RemoteDatabaseURL); err != nil {
			return err
		}
		pool, err := cloudsync.Connect(ctx, appConfig.RemoteDatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		syncer, err := cloudsync.NewSyncer(cloudsync.SyncerConfig{
			Remote: pool,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		cloudSyncer = syncer
		logger.Info("cloud sync enabled")
	} else {
		logger.Info("cloud sync disabled")
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Recorder:     recorder,
		Entries:      entries,
		Catalog:      catalogStore,
		CloudSync:    cloudSyncer,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
