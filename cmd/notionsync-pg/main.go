package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vonshlovens/notionsync-pg/internal/config"
	"github.com/vonshlovens/notionsync-pg/internal/db"
	"github.com/vonshlovens/notionsync-pg/internal/discovery"
	"github.com/vonshlovens/notionsync-pg/internal/httpapi"
	"github.com/vonshlovens/notionsync-pg/internal/mapping"
	"github.com/vonshlovens/notionsync-pg/internal/mirror"
	"github.com/vonshlovens/notionsync-pg/internal/source"
	"github.com/vonshlovens/notionsync-pg/internal/storage"
	"github.com/vonshlovens/notionsync-pg/internal/sync"
	"github.com/vonshlovens/notionsync-pg/internal/watcher"
	"github.com/vonshlovens/notionsync-pg/internal/webhook"
)

var (
	cfgFile   string
	verbose   bool
	logFormat string
	version   = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "notionsync-pg",
		Short:   "Notion to Postgres sync service",
		Long:    `Mirrors the records of linked Notion databases into typed PostgreSQL tables, per tenant.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			opts := &slog.HandlerOptions{Level: level}
			var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
			if logFormat == "json" {
				handler = slog.NewJSONHandler(os.Stderr, opts)
			}
			slog.SetDefault(slog.New(handler))
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")

	rootCmd.AddCommand(
		serveCmd(),
		syncCmd(),
		linkCmd(),
		refreshCmd(),
		linksCmd(),
		statusCmd(),
		migrateCmd(),
		initCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired collaborators shared by the commands
type app struct {
	cfg        *config.Config
	db         *db.DB
	classifier *discovery.Classifier
	engine     *sync.Engine
}

func openDB(ctx context.Context) (*config.Config, *db.DB, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	database, err := db.New(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return cfg, database, nil
}

func newApp(ctx context.Context, showProgress bool) (*app, error) {
	cfg, database, err := openDB(ctx)
	if err != nil {
		return nil, err
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create object store: %w", err)
	}
	assets := mirror.New(store, mirror.Options{
		UserAgent: cfg.Source.UserAgent,
		Timeout:   cfg.Sync.AssetTimeout(),
		MaxBytes:  cfg.Sync.MaxAssetBytes(),
	})

	var rules []discovery.Rule
	if cfg.Discovery.RulesFile != "" {
		rules, err = discovery.LoadRules(cfg.Discovery.RulesFile)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to load discovery rules: %w", err)
		}
	}
	classifier := discovery.NewClassifier(rules)

	registry := source.NewRegistry(cfg.Source, cfg.Sync.PageSize)
	sources := func(tenantID string) (sync.Source, error) {
		c, err := registry.ForTenant(tenantID)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	engine := sync.NewEngine(database, sources, assets, classifier, sync.Options{
		MaxPages:       cfg.Sync.MaxPages,
		BatchSize:      cfg.Sync.BatchSize,
		MaxConcurrency: cfg.Sync.MaxConcurrency,
		ShowProgress:   showProgress,
	})

	return &app{cfg: cfg, db: database, classifier: classifier, engine: engine}, nil
}

func (a *app) Close() {
	a.db.Close()
}

func narrowTypes(names []string) ([]mapping.LogicalType, error) {
	if len(names) == 0 {
		return nil, nil
	}
	types := make([]mapping.LogicalType, 0, len(names))
	for _, name := range names {
		lt, err := mapping.ParseLogicalType(name)
		if err != nil {
			return nil, fmt.Errorf("invalid server.narrow_update_types entry: %w", err)
		}
		types = append(types, lt)
	}
	return types, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and sync HTTP server",
		Long:  `Serves the Notion webhook endpoint and the authenticated sync API until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			narrow, err := narrowTypes(a.cfg.Server.NarrowUpdateTypes)
			if err != nil {
				return err
			}
			if a.cfg.Server.WebhookSecret == "" {
				slog.Warn("server.webhook_secret is not set, webhook deliveries will be rejected")
			}
			if a.cfg.Server.JWTSecret == "" {
				slog.Warn("server.jwt_secret is not set, sync API requests will be rejected")
			}

			dispatcher := webhook.NewDispatcher(a.db, a.engine, narrow)
			handler := httpapi.NewServer(httpapi.Config{
				WebhookSecret: a.cfg.Server.WebhookSecret,
				JWTSecret:     a.cfg.Server.JWTSecret,
				JWTAudience:   a.cfg.Server.JWTAudience,
			}, a.engine, dispatcher, a.db)

			if path := a.cfg.Discovery.RulesFile; path != "" {
				w, err := watcher.New(path, 500*time.Millisecond)
				if err != nil {
					return fmt.Errorf("failed to create rules watcher: %w", err)
				}
				if err := w.Start(ctx); err != nil {
					return fmt.Errorf("failed to start rules watcher: %w", err)
				}
				defer w.Stop()
				go watcher.Run(ctx, w, a.classifier.Reload)
			}

			srv := &http.Server{
				Addr:         a.cfg.Server.Listen,
				Handler:      handler,
				ReadTimeout:  time.Duration(a.cfg.Server.ReadTimeoutSec) * time.Second,
				WriteTimeout: time.Duration(a.cfg.Server.WriteTimeoutSec) * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("server listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			slog.Info("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shut down server: %w", err)
			}
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	var tenant, typeName string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run full sync passes, then exit",
		Long: `Runs a full pass over linked databases and exits. Without --tenant every
tenant is synced; --type narrows a tenant's pass to one logical type.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if typeName != "" && tenant == "" {
				return fmt.Errorf("--type requires --tenant")
			}

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			var results []*sync.Result
			switch {
			case typeName != "":
				lt, err := mapping.ParseLogicalType(typeName)
				if err != nil {
					return err
				}
				results = []*sync.Result{a.engine.SyncTenantType(ctx, tenant, lt)}
			case tenant != "":
				results = a.engine.SyncTenant(ctx, tenant)
			default:
				results, err = a.engine.SyncAll(ctx)
				if err != nil {
					return fmt.Errorf("sync failed: %w", err)
				}
			}

			return printResults(results)
		},
	}
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "tenant id")
	cmd.Flags().StringVar(&typeName, "type", "", "logical type ("+typeList()+")")
	return cmd
}

func typeList() string {
	names := make([]string, 0, len(mapping.AllTypes()))
	for _, lt := range mapping.AllTypes() {
		names = append(names, string(lt))
	}
	return strings.Join(names, ", ")
}

func printResults(results []*sync.Result) error {
	failed := 0
	for _, r := range results {
		label := r.TenantID
		if r.Type != "" {
			label += "/" + string(r.Type)
		}
		if !r.Success {
			failed++
			fmt.Printf("FAILED  %s: %s (%s)\n", label, r.Error, r.Code)
			continue
		}
		fmt.Printf("OK      %s: %d synced, %d added, %d removed\n", label, r.Synced, len(r.Added), len(r.Removed))
		for _, w := range r.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d passes failed", failed, len(results))
	}
	fmt.Println("Sync completed successfully.")
	return nil
}

func linkCmd() *cobra.Command {
	var tenant, tag string
	var noSync bool
	cmd := &cobra.Command{
		Use:   "link <database-id>",
		Short: "Connect a source database to a tenant",
		Long: `Fetches the database title and schema, classifies it into a logical type
(an explicit --tag wins over the name rules), stores the link and runs a first pass.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			link, err := a.engine.LinkDatabase(ctx, tenant, args[0], tag)
			if err != nil {
				return fmt.Errorf("failed to link database: %w", err)
			}
			fmt.Printf("Linked %q as %s", link.DisplayName, link.LogicalType)
			if link.Period != "" {
				fmt.Printf(" (%s)", link.Period)
			}
			fmt.Println()

			if noSync {
				return nil
			}
			return printResults([]*sync.Result{a.engine.SyncLink(ctx, link)})
		},
	}
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "tenant id")
	cmd.Flags().StringVar(&tag, "tag", "", "explicit logical type tag")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "store the link without running a pass")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func refreshCmd() *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "refresh <database-id>",
		Short: "Re-fetch a linked database's title and schema",
		Long: `Re-evaluates a link's classification. When the logical type changes, rows in
the old table are removed along with their assets, then a full pass runs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			link, err := a.db.GetLink(ctx, tenant, discovery.DatabaseKey(args[0]))
			if err != nil {
				return fmt.Errorf("failed to load link: %w", err)
			}
			if link == nil {
				return fmt.Errorf("database %s is not linked for tenant %s", args[0], tenant)
			}

			prevType := link.LogicalType
			link, err = a.engine.RefreshLink(ctx, link)
			if err != nil {
				return fmt.Errorf("failed to refresh link: %w", err)
			}
			if link.LogicalType != prevType {
				fmt.Printf("Logical type changed: %s -> %s\n", prevType, link.LogicalType)
			}
			return printResults([]*sync.Result{a.engine.SyncLink(ctx, link)})
		},
	}
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "tenant id")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func linksCmd() *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "links",
		Short: "List linked databases",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			_, database, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			links, err := database.ListLinks(ctx, tenant)
			if err != nil {
				return fmt.Errorf("failed to list links: %w", err)
			}
			if len(links) == 0 {
				fmt.Println("No databases linked.")
				return nil
			}
			for _, l := range links {
				synced := "never"
				if l.LastSyncAt != nil {
					synced = l.LastSyncAt.Format(time.RFC3339)
				}
				fmt.Printf("%-20s %-18s %-34s %s (last sync: %s)\n",
					l.TenantID, l.LogicalType, l.ExternalDatabaseID, l.DisplayName, synced)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "only list this tenant's links")
	return cmd
}

func statusCmd() *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connection status and sync info",
		Long:  `Shows the database connection status, and row counts and last sync time per link.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			database, err := db.New(ctx, &cfg.Database)
			if err != nil {
				fmt.Printf("Database Status: Disconnected\n")
				fmt.Printf("Error: %v\n", err)
				return nil
			}
			defer database.Close()

			status, err := database.GetStatus(ctx, tenant)
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			fmt.Println("=== NotionSync-PG Status ===")
			fmt.Printf("Database Status: Connected\n")
			fmt.Printf("  Host: %s\n", cfg.Database.Host)
			fmt.Printf("  Database: %s\n", cfg.Database.Database)
			fmt.Printf("  Schema: %s\n", cfg.Database.Schema)
			fmt.Println()
			fmt.Printf("Linked Databases: %d\n", len(status.Links))
			for _, ls := range status.Links {
				synced := "never"
				if ls.Link.LastSyncAt != nil {
					synced = ls.Link.LastSyncAt.Format(time.RFC3339)
				}
				fmt.Printf("  %s/%s %q: %d rows, last sync %s\n",
					ls.Link.TenantID, ls.Link.LogicalType, ls.Link.DisplayName, ls.Rows, synced)
			}
			fmt.Printf("Total Rows: %d\n", status.TotalRows)
			if status.LastSyncTime != nil {
				fmt.Printf("Last Sync: %s\n", status.LastSyncTime.Format(time.RFC3339))
			}

			return nil
		},
	}
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "only show this tenant")
	return cmd
}

func migrateCmd() *cobra.Command {
	var showStatus bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Runs all pending embedded database migrations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			_, database, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			if showStatus {
				return database.MigrationStatus(ctx)
			}
			if err := database.RunMigrations(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Println("Migrations completed successfully.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&showStatus, "status", false, "print migration status instead of migrating")
	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive setup to create config file",
		Long:  `Interactively creates a configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(os.Stdin)
			prompt := func(label, def string) string {
				if def != "" {
					fmt.Printf("  %s [%s]: ", label, def)
				} else {
					fmt.Printf("  %s: ", label)
				}
				v, _ := reader.ReadString('\n')
				v = strings.TrimSpace(v)
				if v == "" {
					return def
				}
				return v
			}

			fmt.Println("=== NotionSync-PG Setup ===")

			fmt.Println("\nDatabase Configuration:")
			host := prompt("Host", "localhost")
			port := prompt("Port", "5432")
			user := prompt("User", "")
			dbName := prompt("Database name", "")
			if dbName == "" {
				return fmt.Errorf("database name is required")
			}
			schemaName := config.SanitizeIdentifier(prompt("Schema name", "notionsync"))
			sslMode := prompt("SSL mode", "require")

			fmt.Println("\nObject Storage:")
			driver := prompt("Driver (minio or s3)", "minio")
			if driver != "minio" && driver != "s3" {
				return fmt.Errorf("unknown storage driver: %s", driver)
			}
			endpoint := ""
			if driver == "minio" {
				endpoint = prompt("Endpoint", "localhost:9000")
			}
			bucket := prompt("Bucket", "notionsync-assets")
			region := prompt("Region", "us-east-1")

			fmt.Println("\nServer:")
			listen := prompt("Listen address", ":8080")

			configContent := fmt.Sprintf(`database:
  host: "%s"
  port: %s
  user: "%s"
  password: "${DB_PASSWORD}"  # Set DB_PASSWORD environment variable
  database: "%s"
  schema: "%s"
  sslmode: "%s"

source:
  token: "${NOTION_TOKEN}"  # Default integration token
  # tokens:                  # Per-tenant integration tokens
  #   tenant-a: "${NOTION_TOKEN_TENANT_A}"

storage:
  driver: "%s"
  endpoint: "%s"
  region: "%s"
  bucket: "%s"
  access_key: "${STORAGE_ACCESS_KEY}"
  secret_key: "${STORAGE_SECRET_KEY}"
  use_ssl: true

sync:
  max_pages: 1000
  page_size: 100
  batch_size: 100
  max_concurrency: 20

server:
  listen: "%s"
  webhook_secret: "${NOTION_WEBHOOK_SECRET}"
  jwt_secret: "${NOTIONSYNC_JWT_SECRET}"
  jwt_audience: "notionsync"

# discovery:
#   rules_file: "~/.config/notionsync-pg/rules.yaml"
`, host, port, user, dbName, schemaName, sslMode, driver, endpoint, region, bucket, listen)

			configDir, err := config.GetConfigDir()
			if err != nil {
				return err
			}
			configPath := filepath.Join(configDir, "config.yaml")

			if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			fmt.Printf("\nConfig file written to: %s\n", configPath)
			fmt.Println("\nIMPORTANT: Set DB_PASSWORD, NOTION_TOKEN, STORAGE_ACCESS_KEY, STORAGE_SECRET_KEY,")
			fmt.Println("NOTION_WEBHOOK_SECRET and NOTIONSYNC_JWT_SECRET in the environment.")
			fmt.Println("\nTo run migrations, run: notionsync-pg migrate")
			fmt.Println("To link a database, run: notionsync-pg link --tenant <id> <database-id>")
			fmt.Println("To start serving, run: notionsync-pg serve")

			return nil
		},
	}
}
