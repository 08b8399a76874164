// Command skinarb-server boots the credential store, configuration
// store, key cache, marketplace clients, orchestrator, scheduler, and
// HTTP façade, then serves until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skinarb/skinarb/pkg/config"
	"github.com/skinarb/skinarb/pkg/credentials"
	"github.com/skinarb/skinarb/pkg/fetcher"
	"github.com/skinarb/skinarb/pkg/httpapi"
	"github.com/skinarb/skinarb/pkg/instrumentation"
	"github.com/skinarb/skinarb/pkg/keycache"
	"github.com/skinarb/skinarb/pkg/logger"
	"github.com/skinarb/skinarb/pkg/marketaclient"
	"github.com/skinarb/skinarb/pkg/marketbclient"
	"github.com/skinarb/skinarb/pkg/marketplace"
	"github.com/skinarb/skinarb/pkg/orchestrator"
	"github.com/skinarb/skinarb/pkg/query"
	"github.com/skinarb/skinarb/pkg/scheduler"
	"github.com/skinarb/skinarb/pkg/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Error("skinarb-server: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skinarb-server",
		Short: "Runs the cross-marketplace price-arbitrage pipeline",
		RunE:  runServer,
	}

	flags := cmd.Flags()
	flags.String("listen-addr", ":8080", "HTTP listen address")
	flags.String("a-base-url", "https://market-a.example.com/api", "marketplace A base URL")
	flags.String("b-base-url", "https://market-b.example.com/api", "marketplace B base URL")
	flags.String("credentials-path", "./data/credentials.json", "credential store file path")
	flags.String("keycache-path", "./data/interesting_keys.json", "interesting-key cache file path")
	flags.String("config-file", "", "optional YAML/JSON config file overriding flag defaults")

	_ = viper.BindPFlags(flags)
	viper.SetEnvPrefix("SKINARB")
	viper.AutomaticEnv()

	return cmd
}

func runServer(cmd *cobra.Command, args []string) error {
	if cfgFile := viper.GetString("config-file"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	credStore, err := credentials.New(viper.GetString("credentials-path"))
	if err != nil {
		return fmt.Errorf("init credential store: %w", err)
	}

	keyCache, err := keycache.New(viper.GetString("keycache-path"))
	if err != nil {
		return fmt.Errorf("init key cache: %w", err)
	}

	cfgStore := config.New(func() {
		if err := keyCache.Clear(); err != nil {
			logger.Warn("startup: failed to clear key cache on filter change: %v", err)
		}
	})

	params := cfgStore.Snapshot()

	pacingA := transport.NewPacingLimiter(params.AMinDelay, 10, 3*time.Second, 6*time.Second)
	pacingB := transport.NewPacingLimiter(params.BMinDelay, 10, 3*time.Second, 6*time.Second)

	metrics := instrumentation.NewCollector(nil)

	breakerConfigA := transport.DefaultCircuitBreakerConfig()
	breakerConfigA.Marketplace = string(marketplace.A)
	breakerConfigA.OnStateChange = metrics.BreakerStateHook()

	breakerConfigB := transport.DefaultCircuitBreakerConfig()
	breakerConfigB.Marketplace = string(marketplace.B)
	breakerConfigB.OnStateChange = metrics.BreakerStateHook()

	transportA := transport.NewClient(string(marketplace.A), viper.GetString("a-base-url"), pacingA,
		transport.WithCircuitBreaker(transport.NewCircuitBreaker(breakerConfigA)),
		transport.WithCredentials(credentialsFunc(credStore, marketplace.A)),
		transport.WithMetrics(metrics),
	)
	transportB := transport.NewClient(string(marketplace.B), viper.GetString("b-base-url"), pacingB,
		transport.WithCircuitBreaker(transport.NewCircuitBreaker(breakerConfigB)),
		transport.WithCredentials(credentialsFunc(credStore, marketplace.B)),
		transport.WithMetrics(metrics),
	)

	clientA := marketaclient.New(transportA)
	clientB := marketbclient.New(transportB)

	orch := orchestrator.New(clientA, fetcher.AdaptB(clientB), keyCache, cfgStore)

	sched := scheduler.New(orch, cfgStore)

	querySurface := query.New(orch, sched)

	tester := func(ctx context.Context, id marketplace.ID) (int, error) {
		switch id {
		case marketplace.A:
			items, _, err := clientA.FetchPage(ctx, 1, 1)
			return len(items), err
		case marketplace.B:
			items, err := clientB.FetchPage(ctx, 0, 1)
			return len(items), err
		default:
			return 0, fmt.Errorf("unknown marketplace %q", id)
		}
	}

	api := httpapi.New(querySurface, orch, credStore, cfgStore, httpapi.WithCredentialTester(tester))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)
	defer sched.Stop()

	srv := &http.Server{
		Addr:         viper.GetString("listen-addr"),
		Handler:      api.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("skinarb-server: listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("skinarb-server: shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func credentialsFunc(store *credentials.Store, id marketplace.ID) transport.CredentialsFunc {
	return func(ctx context.Context) (map[string]string, map[string]string, error) {
		rec := store.Get(id)
		return rec.Headers, rec.Cookies, nil
	}
}
