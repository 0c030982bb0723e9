package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/HsiangNianian/uiabridge/internal/bridge"
	"github.com/HsiangNianian/uiabridge/internal/chrome"
	"github.com/HsiangNianian/uiabridge/internal/config"
	"github.com/HsiangNianian/uiabridge/internal/logger"
	"github.com/HsiangNianian/uiabridge/internal/resiliency"
	"github.com/HsiangNianian/uiabridge/internal/status"
	"github.com/HsiangNianian/uiabridge/internal/store"
	"github.com/HsiangNianian/uiabridge/internal/ws"
)

type rootFlags struct {
	configPath    string
	envFiles      []string
	controllerURL string
	debuggerURL   string
	statusAddr    string
}

// apply lets explicitly passed flags win over the config file.
func (f rootFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fs := cmd.Flags()
	if fs.Changed("controller-url") {
		cfg.Controller.URL = f.controllerURL
	}
	if fs.Changed("debugger-url") {
		cfg.Browser.DebuggerURL = f.debuggerURL
	}
	if fs.Changed("status-addr") {
		cfg.Status.ListenAddr = f.statusAddr
	}
}

func NewRootCmd(log *logger.Logger) *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "uiabridge",
		Short: "Streams browser tab activity to a local automation controller",
		Long: `uiabridge instruments the pages of a Chromium browser and keeps a websocket
link to a local controller. Tab, navigation and network events are pushed as
they happen, and controller commands are answered with data read from the tabs.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadEnvFiles(flags.envFiles...); err != nil {
				return err
			}
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			flags.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), log.Logger, cfg)
		},
	}
	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	fs := rootCmd.Flags()
	fs.StringVarP(&flags.configPath, "config", "c", "", "Path to a JSON config file (comments allowed)")
	fs.StringSliceVar(&flags.envFiles, "env-file", nil, "Dotenv files to load before reading the config")
	fs.StringVar(&flags.controllerURL, "controller-url", "", "Controller websocket URL (overrides controller.url)")
	fs.StringVar(&flags.debuggerURL, "debugger-url", "", "DevTools websocket URL or host:port (overrides browser.debugger_url)")
	fs.StringVar(&flags.statusAddr, "status-addr", "", "Status listen address (overrides status.listen_addr)")
	log.AddLevelFlag(rootCmd.PersistentFlags())

	return rootCmd
}

func run(ctx context.Context, log logr.Logger, cfg config.Config) (err error) {
	defer func() {
		if panicErr := resiliency.MakePanicError(recover(), log); panicErr != nil {
			err = panicErr
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	journal, closeJournal := openJournal(log, cfg.Journal)
	defer closeJournal()
	recorder := store.NewRecorder(log.WithName("journal"), journal, 0)

	browser := chrome.New(log.WithName("chrome"), chrome.Options{
		DebuggerURL:    cfg.Browser.DebuggerURL,
		Launch:         cfg.Browser.Launch,
		Headless:       cfg.Browser.Headless,
		ConnectTimeout: cfg.ConnectTimeout(),
	})
	defer func() {
		if closeErr := browser.Close(); closeErr != nil {
			log.Error(closeErr, "close browser failed")
		}
	}()

	conn := ws.NewManager(log.WithName("ws"), cfg.ControllerURL(), ws.WithReconnectDelay(cfg.ReconnectDelay()))
	b := bridge.New(log.WithName("bridge"), browser, conn, bridge.Options{
		Events:   cfg.EventKinds(),
		Debug:    cfg.DebugOptions(),
		Recorder: recorder,
	})
	conn.SetHandler(b.Inbound)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		recorder.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = b.Run(ctx)
	}()
	defer wg.Wait()
	defer cancel()

	// Discovery replays existing targets, so the loop must be subscribed first.
	select {
	case <-b.Ready():
	case <-ctx.Done():
		return nil
	}
	if err := browser.Start(ctx); err != nil {
		return fmt.Errorf("start browser host: %w", err)
	}

	conn.Start(ctx)
	log.Info("bridge started", "controller", cfg.ControllerURL())

	if cfg.StatusEnabled() {
		srv := status.New(log.WithName("status"), conn, b, journal, recorder.Dropped)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ctx, cfg.Status.ListenAddr); err != nil {
				log.Error(err, "status server stopped")
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func openJournal(log logr.Logger, cfg config.JournalConfig) (store.Store, func()) {
	if cfg.RedisAddr == "" {
		log.Info("use memory journal", "capacity", cfg.Capacity)
		return store.NewMemoryStore(cfg.Capacity), func() {}
	}

	rs := store.NewRedisStore(cfg.RedisAddr, cfg.RedisKey, cfg.RedisChannel, cfg.Capacity)
	log.Info("use redis journal", "addr", cfg.RedisAddr, "key", cfg.RedisKey)
	return rs, func() {
		if err := rs.Close(); err != nil {
			log.Error(err, "close redis journal failed")
		}
	}
}
