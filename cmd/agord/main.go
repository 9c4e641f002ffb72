// Command agord is the Agor daemon: it loads configuration, wires the
// Repository, SessionKernel, PermissionArbiter, MCPResolver and UnixCtl
// Controller collaborators together, serves the HTTP API, runs the Unix
// identity reconciliation loop, and shuts down gracefully on SIGINT/SIGTERM.
// Grounded on backend/cmd/agent-manager/main.go's numbered bootstrap
// sequence (config, logger, event bus, ... HTTP server, graceful shutdown),
// generalized from Docker/NATS-agent-manager wiring to this daemon's
// SessionKernel/PermissionArbiter/MCPResolver/UnixCtl collaborator set.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agor/agord/internal/agentdriver"
	"github.com/agor/agord/internal/agentreg"
	"github.com/agor/agord/internal/broadcast"
	"github.com/agor/agord/internal/collab"
	"github.com/agor/agord/internal/config"
	"github.com/agor/agord/internal/eventbus"
	"github.com/agor/agord/internal/httpapi"
	"github.com/agor/agord/internal/logging"
	"github.com/agor/agord/internal/mcpresolver"
	"github.com/agor/agord/internal/permission"
	"github.com/agor/agord/internal/projectfiles"
	"github.com/agor/agord/internal/repository"
	"github.com/agor/agord/internal/repository/memory"
	"github.com/agor/agord/internal/secrets"
	"github.com/agor/agord/internal/sessionkernel"
	"github.com/agor/agord/internal/unixctl"
)

const reconcileInterval = 30 * time.Second

func main() {
	// 1. Load configuration
	cfgPath := os.Getenv("AGOR_CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("starting agord")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Repository. internal/repository/sqlite is not yet implemented, so
	// every database.driver is served by the in-memory backend for now;
	// see DESIGN.md for the tracked gap.
	repo := buildRepository(cfg.Database, log)
	defer repo.Close()

	// 4. Event bus
	bus, err := buildEventBus(cfg.NATS, log)
	if err != nil {
		log.Fatal("failed to build event bus", zap.Error(err))
	}

	// 5. Secrets resolver (C3)
	secretsResolver, err := buildSecretsResolver(cfg.Secrets, repo, log)
	if err != nil {
		log.Warn("secrets resolver disabled", zap.Error(err))
	}

	// 6. MCP resolver + discoverer (C4)
	mcpCfg := mcpresolver.Config{
		MCPRemoteShimPath: cfg.MCP.RemoteShimPath,
		DisableSelfAccess: !cfg.MCP.SelfAccessEnabled,
	}
	var mcpAssembler sessionkernel.MCPAssembler
	var mcpResolver *mcpresolver.Resolver
	if secretsResolver != nil {
		mcpResolver = mcpresolver.New(repo, secretsResolver, mcpCfg, log)
		mcpAssembler = mcpResolver
	}
	mcpDiscoverer := mcpresolver.NewDiscoverer(repo.MCPServers(), 10*time.Second)

	// 7. Broadcaster: NATS-backed across replicas when enabled, local-only
	// otherwise.
	broadcaster, err := buildBroadcaster(cfg.NATS, bus, log)
	if err != nil {
		log.Fatal("failed to build broadcaster", zap.Error(err))
	}

	// 8. Unix identity/worktree controller (C1, C2)
	fs := unixctl.NewOSCollabFilesystem()
	controller := unixctl.NewController(
		unixctl.NewOSExecutor(),
		unixctl.NewOSFilesystem(),
		cfg.Unix.AgorGroup,
		cfg.Unix.HomeBase,
		cfg.Unix.AutoManageSymlink,
		log,
	)
	if err := controller.EnsureAgorGroup(ctx); err != nil {
		log.Fatal("failed to ensure agor group", zap.Error(err))
	}

	// 9. Agent driver + registry (C6)
	driver := agentdriver.New(agentdriver.NewOSSpawner(), cfg.Agent.IdleTimeout, cfg.Agent.TerminationGracePeriod, log)
	agents := agentreg.Default()

	// 10. Permission arbiter (C7)
	settingsManager := projectfiles.NewSettingsManager(fs)
	arbiter := permission.New(
		repo.Sessions(), repo.Tasks(), repo.Messages(), repo.PermissionRequests(), repo.Worktrees(),
		broadcaster, nil, settingsManager, log,
	)

	// 11. Session kernel (C8)
	kernel := sessionkernel.New(
		repo, driver, arbiter, agents, secretsResolver, mcpAssembler,
		broadcaster, nil, fs, unixctl.OSGIDResolver{}, cfg.Unix.AgorGroup, cfg.Agent.ResumeStalenessThreshold, log,
	)

	// 12. HTTP server
	handler := httpapi.NewHandler(kernel, arbiter, mcpResolver, mcpDiscoverer, broadcaster, repo, log)
	router := httpapi.NewRouter(handler, log)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Info("http server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	// 13. Reconciliation loop: syncAll every 30s against the Repository's
	// recorded truth (mirrors the teacher's cleanupLoop/performCleanup
	// 30s-ticker pattern).
	go reconcileLoop(ctx, repo, controller, log)

	// 14. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down agord")

	// 15. Graceful shutdown
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}
	bus.Close()
	log.Info("agord stopped")
}

func buildRepository(cfg config.DatabaseConfig, log *logging.Logger) repository.Repository {
	if cfg.Driver != "" && cfg.Driver != "memory" {
		log.Warn("database driver not yet implemented, falling back to in-memory repository", zap.String("driver", cfg.Driver))
	}
	return memory.New()
}

func buildEventBus(cfg config.NATSConfig, log *logging.Logger) (eventbus.EventBus, error) {
	if !cfg.Enabled {
		return eventbus.NewMemoryBus(log), nil
	}
	return eventbus.NewNATSBus(eventbus.Config{URL: cfg.URL}, log)
}

func buildSecretsResolver(cfg config.SecretsConfig, repo repository.Repository, log *logging.Logger) (*secrets.Resolver, error) {
	raw := os.Getenv(cfg.MasterKeyEnv)
	if raw == "" {
		return nil, fmt.Errorf("master key env %q is not set", cfg.MasterKeyEnv)
	}
	key, err := secrets.DecodeBase64Key(raw)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	provider, err := secrets.NewStaticKeyProvider(key)
	if err != nil {
		return nil, err
	}
	cipher := secrets.NewCipher(provider)
	store := secrets.NewRepositoryUserSecretStore(repo.Users())
	return secrets.NewResolver(cipher, store, secrets.EnvGlobalAPIKeySource{}, log), nil
}

// hub is the combined surface Kernel/Arbiter (collab.Broadcaster) and the
// httpapi ws upgrade (httpapi.Broadcaster) need; both broadcast.Hub and
// broadcast.DistributedHub satisfy it.
type hub interface {
	collab.Broadcaster
	httpapi.Broadcaster
}

func buildBroadcaster(cfg config.NATSConfig, bus eventbus.EventBus, log *logging.Logger) (hub, error) {
	if !cfg.Enabled {
		return broadcast.NewHub(log), nil
	}
	return broadcast.NewDistributedHub(bus, localNodeID(), log)
}

func localNodeID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "agord"
}

// reconcileLoop runs Controller.SyncAll on a fixed interval against every
// known User and Worktree, giving it its only caller (§9 supplemented
// feature).
func reconcileLoop(ctx context.Context, repo repository.Repository, controller *unixctl.Controller, log *logging.Logger) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			users, err := repo.Users().FindAll(ctx, nil)
			if err != nil {
				log.Warn("reconcile: list users failed", zap.Error(err))
				continue
			}
			worktrees, err := repo.Worktrees().FindAll(ctx, nil)
			if err != nil {
				log.Warn("reconcile: list worktrees failed", zap.Error(err))
				continue
			}
			if errs := controller.SyncAll(ctx, users, worktrees); len(errs) > 0 {
				for _, e := range errs {
					log.Warn("reconcile: syncAll error", zap.Error(e))
				}
			}
		}
	}
}
