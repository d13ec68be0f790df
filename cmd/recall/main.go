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

	"github.com/everlore/recall/internal/profile"
	"github.com/everlore/recall/internal/settings"
	"github.com/everlore/recall/server"
	"github.com/everlore/recall/server/memory"
	"github.com/everlore/recall/store"
	"github.com/everlore/recall/store/db"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Conversational memory engine with vector retrieval",
	RunE: func(_ *cobra.Command, _ []string) error {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Version: version,
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			return err
		}

		if instanceProfile.IsDev() {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}

		settingsMgr := settings.NewManager(instanceProfile.SettingsPath())
		if err := settingsMgr.Load(); err != nil {
			return err
		}
		snap := settingsMgr.Get()

		driver, err := db.NewDriver(snap.Driver, snap.Endpoint, snap.APIKey)
		if err != nil {
			return err
		}
		// Closing the store closes whichever driver it currently holds,
		// which may no longer be this one after a settings update.
		vectorStore := store.New(driver)
		defer vectorStore.Close()

		memoryService := memory.NewService(settingsMgr, vectorStore)
		s := server.NewServer(instanceProfile, settingsMgr, memoryService)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := s.Start(ctx); err != nil {
			slog.Error("server stopped with error", "error", err)
			return err
		}
		slog.Info("server shut down")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("mode", "dev", `mode of the server, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().String("addr", "", "address of the server")
	rootCmd.PersistentFlags().Int("port", 7334, "port of the server")
	rootCmd.PersistentFlags().String("data", "", "data directory")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("recall")
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
