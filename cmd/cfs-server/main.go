// Package main is the entry point for the CFS control plane server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/hpcfleet/cfs/internal/cfsapi"
	"github.com/hpcfleet/cfs/internal/cfsapi/handlers"
	"github.com/hpcfleet/cfs/internal/cfsconfig"
	"github.com/hpcfleet/cfs/internal/cfslog"
	"github.com/hpcfleet/cfs/internal/componentregistry"
	"github.com/hpcfleet/cfs/internal/configregistry"
	"github.com/hpcfleet/cfs/internal/eventbus"
	"github.com/hpcfleet/cfs/internal/external"
	"github.com/hpcfleet/cfs/internal/health"
	"github.com/hpcfleet/cfs/internal/kvstore"
	"github.com/hpcfleet/cfs/internal/migration"
	"github.com/hpcfleet/cfs/internal/optionscache"
	"github.com/hpcfleet/cfs/internal/sessionfsm"
	"github.com/hpcfleet/cfs/internal/sourceregistry"
	"github.com/hpcfleet/cfs/internal/sourceresolver"
	"github.com/hpcfleet/cfs/internal/tenancy"
)

const (
	serviceName        = "cfs-server"
	serviceVersion     = "1.0.0"
	optionsKeyspace    = "cfs:options"
	componentsKeyspace = "cfs:components"
	configsKeyspace    = "cfs:configurations"
	sourcesKeyspace    = "cfs:sources"
	sessionsKeyspace   = "cfs:sessions"
	refreshInterval    = 30 * time.Second
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:     serviceName,
		Short:   "Configuration Framework Service control plane",
		Version: serviceVersion,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file layered over environment variables")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the CFS HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run the one-shot schema migration pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(configPath)
		},
	}
	root.AddCommand(serveCmd, migrateCmd)
	root.RunE = serveCmd.RunE

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runMigration builds just the Stores needed by MigrationPass and runs it
// once, for operators who want to migrate ahead of a rolling deploy instead
// of paying the pass's cost on every server start.
func runMigration(configPath string) error {
	cfg, err := cfsconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfslog.NewLogger(cfg.Log)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	storeCfg := kvstore.Config{
		BusyBudget: time.Duration(cfg.Store.BusyBudgetSeconds) * time.Second,
		BatchSize:  cfg.Store.BatchSize,
	}

	runner := migration.New(
		kvstore.NewRedisStore(redisClient, optionsKeyspace, storeCfg, logger),
		kvstore.NewRedisStore(redisClient, componentsKeyspace, storeCfg, logger),
		kvstore.NewRedisStore(redisClient, configsKeyspace, storeCfg, logger),
		kvstore.NewRedisStore(redisClient, sessionsKeyspace, storeCfg, logger),
		logger,
	)
	if err := runner.Run(context.Background()); err != nil {
		return fmt.Errorf("migration pass: %w", err)
	}
	logger.Info("migration pass complete")
	return nil
}

func run(configPath string) error {
	cfg, err := cfsconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := cfslog.NewLogger(cfg.Log)
	logger.Info("starting cfs-server", "service", serviceName, "version", serviceVersion)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	storeCfg := kvstore.Config{
		BusyBudget: time.Duration(cfg.Store.BusyBudgetSeconds) * time.Second,
		BatchSize:  cfg.Store.BatchSize,
	}

	optionsStore := kvstore.NewRedisStore(redisClient, optionsKeyspace, storeCfg, logger)
	componentsStore := kvstore.NewRedisStore(redisClient, componentsKeyspace, storeCfg, logger)
	configurationsStore := kvstore.NewRedisStore(redisClient, configsKeyspace, storeCfg, logger)
	sourcesStore := kvstore.NewRedisStore(redisClient, sourcesKeyspace, storeCfg, logger)
	sessionsStore := kvstore.NewRedisStore(redisClient, sessionsKeyspace, storeCfg, logger)

	options, err := optionscache.New(optionsStore, logger)
	if err != nil {
		return fmt.Errorf("build options cache: %w", err)
	}
	if _, err := options.Refresh(context.Background()); err != nil {
		logger.Warn("initial options refresh failed, continuing on packaged defaults", "error", err)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	secretStore := external.NewVaultSecretStore(cfg.Vault.Addr, os.Getenv("VAULT_TOKEN"), httpClient)
	tenantService := external.NewHTTPTenantService(os.Getenv("TENANT_SERVICE_URL"), httpClient)

	var configMapStore external.ConfigMapStore = unavailableConfigMapStore{}
	if k8sClient, err := newK8sClient(cfg.K8s); err != nil {
		logger.Warn("k8s client unavailable, Source ca_cert configmaps will not resolve", "error", err)
	} else {
		configMapStore = external.NewK8sConfigMapStore(k8sClient, cfg.K8s.Namespace)
	}

	resolver := sourceresolver.New(sourceresolver.Defaults{
		Username: cfg.Git.DefaultUsername,
		Password: cfg.Git.DefaultPassword,
		CAInfo:   cfg.Git.DefaultCAInfo,
	}, secretStore, configMapStore)

	sourcesRegistry := sourceregistry.New(sourcesStore, secretStore, sourceInUseCheck(configurationsStore, options))

	// configregistry and componentregistry each need a method value from the
	// other (the delete-in-use gate and the reconciler's Configuration
	// lookup). componentsRegistry is assigned after configsRegistry is
	// built; refChecker only runs once both are live, which holds for every
	// real call since this closure is never invoked during construction.
	var componentsRegistry *componentregistry.Registry
	refChecker := func(ctx context.Context, name string) (bool, error) {
		return componentsRegistry.ReferencesConfiguration(ctx, name)
	}

	configsRegistry, err := configregistry.New(configurationsStore, resolver, sourcesRegistry.Get, refChecker, 256)
	if err != nil {
		return fmt.Errorf("build configuration registry: %w", err)
	}
	componentsRegistry = componentregistry.New(componentsStore, configsRegistry)

	eventBus := eventbus.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	defer eventBus.Close()

	configExists := func(_ context.Context, name string) bool {
		_, ok := configsRegistry.Get(name)
		return ok
	}
	sessionsV2 := sessionfsm.New(sessionsStore, configExists, eventBus, false)
	sessionsV3 := sessionfsm.New(sessionsStore, configExists, eventBus, true)

	tenantGate := tenancy.New(tenantService)
	healthProbe := health.New(optionsStore, eventBus)

	runner := migration.New(optionsStore, componentsStore, configurationsStore, sessionsStore, logger)
	if err := runner.Run(context.Background()); err != nil {
		logger.Warn("startup migration pass failed, continuing with pre-migration data", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	options.Start(ctx, refreshInterval)
	defer options.Stop()

	router := cfsapi.NewRouter(cfsapi.Config{
		Logger:             logger,
		Options:            options,
		Health:             healthProbe,
		Tenancy:            tenantGate,
		Components:         componentsRegistry,
		Configurations:     configsRegistry,
		Sources:            sourcesRegistry,
		OptionsStore:       handlers.NewOptions(optionsStore),
		SessionsV2:         sessionsV2,
		SessionsV3:         sessionsV3,
		RateLimitPerMinute: 600,
		RateLimitBurst:     100,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("server exited")
	return nil
}

// unavailableConfigMapStore stands in for external.ConfigMapStore when no
// k8s client could be built, so a Source with ca_cert set fails its branch
// resolution with a clear error instead of panicking on a nil interface.
type unavailableConfigMapStore struct{}

func (unavailableConfigMapStore) GetConfigMap(_ context.Context, name, namespace string) (external.ConfigMap, error) {
	return external.ConfigMap{}, fmt.Errorf("k8s client unavailable, cannot fetch configmap %s/%s", namespace, name)
}

// newK8sClient builds a clientset from in-cluster config or, for local
// development, a kubeconfig file, grounded on the teacher's
// internal/infrastructure/k8s client-go usage.
func newK8sClient(cfg cfsconfig.K8sConfig) (kubernetes.Interface, error) {
	var restCfg *rest.Config
	var err error
	if cfg.InCluster {
		restCfg, err = rest.InClusterConfig()
	} else {
		restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
	}
	if err != nil {
		return nil, fmt.Errorf("load k8s config: %w", err)
	}
	return kubernetes.NewForConfig(restCfg)
}

// sourceInUseCheck reports whether name is referenced by any configuration
// layer or additional_inventory layer, or by the global
// additional_inventory_source option, per spec.md §3, §4.8.
func sourceInUseCheck(configurationsStore kvstore.Store, options *optionscache.Cache) sourceregistry.InUseCheck {
	return func(ctx context.Context, name string) (bool, error) {
		if options.Snapshot().AdditionalInventorySource == name {
			return true, nil
		}

		scanCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		found := false
		values, errc := configurationsStore.IterValues(scanCtx, "")
		for entry := range values {
			if configReferencesSource(entry.Value, name) {
				found = true
				break
			}
		}
		if err := <-errc; err != nil && err != context.Canceled {
			return false, err
		}
		return found, nil
	}
}

func configReferencesSource(doc map[string]interface{}, name string) bool {
	if layers, ok := doc["layers"].([]interface{}); ok {
		for _, l := range layers {
			if m, ok := l.(map[string]interface{}); ok {
				if src, _ := m["source"].(string); src == name {
					return true
				}
			}
		}
	}
	if ai, ok := doc["additional_inventory"].(map[string]interface{}); ok {
		if src, _ := ai["source"].(string); src == name {
			return true
		}
	}
	return false
}
