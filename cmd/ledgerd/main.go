package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/quillmarket/ledger/internal/dispatch"
	"github.com/quillmarket/ledger/internal/httpserver"
	"github.com/quillmarket/ledger/internal/notify"
	"github.com/quillmarket/ledger/internal/secrets"
	"github.com/quillmarket/ledger/internal/store/gormstore"
	"github.com/quillmarket/ledger/pkg/coupon"
	"github.com/quillmarket/ledger/pkg/ledger"
	"github.com/quillmarket/ledger/pkg/payment"
	"github.com/quillmarket/ledger/pkg/payout"
)

const (
	flagDatabaseURL       = "database-url"
	flagListenAddr        = "listen-addr"
	flagAllowedOrigins    = "allowed-origins"
	flagPaymentKey        = "payment-details-key"
	flagMinimumPayout     = "minimum-payout-cents"
	configKeyDatabaseURL  = "database_url"
	configKeyListenAddr   = "listen_addr"
	configKeyOrigins      = "allowed_origins"
	configKeyPaymentKey   = "payment_details_key"
	configKeyMinPayout    = "minimum_payout_cents"
	defaultDatabaseURL    = "sqlite:///tmp/marketledger.db"
	defaultListenAddr     = ":8080"
	defaultMinPayoutCents = 1000
)

type runtimeConfig struct {
	DatabaseURL        string
	ListenAddr         string
	AllowedOrigins     string
	PaymentDetailsKey  string
	MinimumPayoutCents int64
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "ledgerd",
		Short:         "Marketplace ledger and payout engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or SQLite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "Comma-separated CORS origins")
	cmd.Flags().String(flagPaymentKey, "", "Base64-encoded 32-byte key for payment details at rest")
	cmd.Flags().Int64(flagMinimumPayout, defaultMinPayoutCents, "Minimum payout amount in cents")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL: "DATABASE_URL",
		configKeyListenAddr:  "LISTEN_ADDR",
		configKeyOrigins:     "ALLOWED_ORIGINS",
		configKeyPaymentKey:  "PAYMENT_DETAILS_KEY",
		configKeyMinPayout:   "PAYOUT_MIN_CENTS",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}
	flags := map[string]string{
		configKeyDatabaseURL: flagDatabaseURL,
		configKeyListenAddr:  flagListenAddr,
		configKeyOrigins:     flagAllowedOrigins,
		configKeyPaymentKey:  flagPaymentKey,
		configKeyMinPayout:   flagMinimumPayout,
	}
	for key, flag := range flags {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AllowedOrigins = viper.GetString(configKeyOrigins)
	cfg.PaymentDetailsKey = viper.GetString(configKeyPaymentKey)
	cfg.MinimumPayoutCents = viper.GetInt64(configKeyMinPayout)
	if cfg.PaymentDetailsKey == "" {
		return fmt.Errorf("payment details key is required")
	}
	if cfg.MinimumPayoutCents < 0 {
		return fmt.Errorf("minimum payout must not be negative")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	codec, err := secrets.NewCodecFromBase64(cfg.PaymentDetailsKey)
	if err != nil {
		return fmt.Errorf("payment details key: %w", err)
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }

	ledgerService, err := ledger.NewService(store.Ledger(), clock,
		ledger.WithOperationLogger(notify.NewZapOperationLogger(logger)))
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}
	couponService, err := coupon.NewService(store.Coupons(), clock)
	if err != nil {
		return fmt.Errorf("coupon service init: %w", err)
	}
	notifier := notify.NewLogNotifier(logger)
	paymentService, err := payment.NewService(store.Payments(), clock,
		payment.WithOperationLogger(notify.NewZapIngestionLogger(logger)),
		payment.WithCouponRedeemer(couponService),
		payment.WithCommissioner(notify.NewLogCommissioner(logger)),
		payment.WithNotifier(notifier),
		payment.WithAuditLog(notify.NewLogAuditLog(logger)))
	if err != nil {
		return fmt.Errorf("payment service init: %w", err)
	}
	payoutService, err := payout.NewService(store.Payouts(), codec, clock,
		payout.Config{MinimumPayoutCents: ledger.AmountCents(cfg.MinimumPayoutCents)},
		payout.WithPayeeNotifier(notifier),
		payout.WithOperationLogger(notify.NewZapWorkflowLogger(logger)))
	if err != nil {
		return fmt.Errorf("payout service init: %w", err)
	}

	dispatcher := dispatch.New()
	dispatcher.Register(payment.EventPaymentConfirmed, paymentService.HandleGatewayEvent)

	server, err := httpserver.New(httpserver.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: httpserver.ParseAllowedOrigins(cfg.AllowedOrigins),
	}, httpserver.Services{
		Ledger:     ledgerService,
		Coupons:    couponService,
		Payouts:    payoutService,
		Dispatcher: dispatcher,
	}, logger)
	if err != nil {
		return fmt.Errorf("http server init: %w", err)
	}
	return server.Run(ctx)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "marketledger.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
