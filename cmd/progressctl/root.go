package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reactionmap/progress/internal/client"
	"reactionmap/progress/internal/localstore"
	"reactionmap/progress/internal/syncer"
)

// app is the per-invocation client state shared by all subcommands.
type app struct {
	v        *viper.Viper
	storage  localstore.Storage
	close    func() error
	client   *client.Client
	progress *localstore.ProgressStore
	sessions *localstore.SessionStore
	engine   *syncer.Engine
}

// newRootCmd builds the command tree. A non-nil storage replaces the bbolt file.
func newRootCmd(storage localstore.Storage) *cobra.Command {
	a := &app{v: viper.New(), storage: storage}

	root := &cobra.Command{
		Use:           "progressctl",
		Short:         "Offline-first progress client for the reaction map",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.close != nil {
				return a.close()
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (yaml, json or toml)")
	flags.String("server", "http://localhost:8080", "progress server base URL")
	flags.String("store", defaultStorePath(), "local progress database")
	flags.Duration("timeout", 8*time.Second, "per-request timeout")
	flags.Int("retries", 2, "retries for network errors, 408 and 5xx")
	for _, name := range []string{"config", "server", "store", "timeout", "retries"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}
	a.v.SetEnvPrefix("PROGRESSCTL")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		a.joinCmd(),
		a.recordCmd(),
		a.pendingCmd(),
		a.syncCmd(),
		a.watchCmd(),
		a.statusCmd(),
		a.reportCmd(),
		a.logoutCmd(),
	)
	return root
}

func (a *app) open() error {
	if path := a.v.GetString("config"); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	if a.storage == nil {
		path := a.v.GetString("store")
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return err
		}
		bolt, err := localstore.OpenBolt(path)
		if err != nil {
			return err
		}
		a.storage = bolt
		a.close = bolt.Close
	}

	a.client = client.New(a.v.GetString("server"),
		client.WithTimeout(a.v.GetDuration("timeout")),
		client.WithRetries(a.v.GetInt("retries"), 300*time.Millisecond),
	)
	a.progress = localstore.NewProgressStore(a.storage)
	a.sessions = localstore.NewSessionStore(a.storage, a.storage)
	a.engine = syncer.NewEngine(a.client, a.progress, a.sessions, syncer.ProbeConnectivity(a.client, 3*time.Second))
	return nil
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "progressctl.db"
	}
	return filepath.Join(dir, "progressctl", "progress.db")
}
