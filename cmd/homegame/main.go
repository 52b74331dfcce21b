package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/anhbaysgalan1/homegame/internal/api"
	"github.com/anhbaysgalan1/homegame/internal/auth"
	"github.com/anhbaysgalan1/homegame/internal/cache"
	"github.com/anhbaysgalan1/homegame/internal/config"
	"github.com/anhbaysgalan1/homegame/internal/database"
	"github.com/anhbaysgalan1/homegame/internal/formance"
	"github.com/anhbaysgalan1/homegame/internal/repositories"
	"github.com/anhbaysgalan1/homegame/internal/session"
	"github.com/anhbaysgalan1/homegame/internal/stream"
	"github.com/charmbracelet/log"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Version kong.VersionFlag `short:"v" help:"Show version"`
	Debug   bool             `help:"Enable debug logging (overrides LOG_LEVEL)"`

	Watch    WatchCmd    `cmd:"" help:"Print a game's ledger as it changes"`
	BuyIn    BuyInCmd    `cmd:"buyin" help:"Record a buy-in"`
	CashOut  CashOutCmd  `cmd:"cashout" help:"Record a cash-out"`
	Complete CompleteCmd `cmd:"" help:"Complete a game"`
	Settle   SettleCmd   `cmd:"" help:"Show who pays whom for a completed game"`
	History  HistoryCmd  `cmd:"" help:"List journaled transfers for a player"`
	Balance  BalanceCmd  `cmd:"" help:"Show a player's settlement wallet balance"`
	Relay    RelayCmd    `cmd:"" help:"Republish a game's snapshots to Redis and NATS"`
	Serve    ServeCmd    `cmd:"" help:"Serve the game view over HTTP"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("homegame"),
		kong.Description("Live ledger and settlement for home poker games"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)

	cfg := config.Load()
	if cli.Debug {
		cfg.LogLevel = "debug"
	}
	logger := setupLogger(cfg)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		ctx.FatalIfErrorf(fmt.Errorf("invalid configuration: %w", err))
	}

	rt := &runtime{config: cfg, logger: logger}
	ctx.FatalIfErrorf(execute(ctx, rt))
}

// execute runs the selected command and releases the runtime's connections
// before returning, since FatalIfErrorf exits without running defers
func execute(ctx *kong.Context, rt *runtime) error {
	defer rt.Close()
	return ctx.Run(rt)
}

// setupLogger installs charmbracelet/log as the slog handler
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := log.Options{
		Level:           log.Level(cfg.SlogLevel()),
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	}
	if cfg.LogFormat == "json" {
		opts.Formatter = log.JSONFormatter
		opts.TimeFormat = time.RFC3339
	}
	return slog.New(log.NewWithOptions(os.Stderr, opts))
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runtime builds the clients commands share and closes them on exit
type runtime struct {
	config *config.Config
	logger *slog.Logger

	redis *redis.Client
	nats  *nats.Conn
}

func (rt *runtime) apiClient() *api.Client {
	return api.NewClient(rt.config)
}

func (rt *runtime) redisClient() (*redis.Client, error) {
	if rt.redis != nil {
		return rt.redis, nil
	}
	if rt.config.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is not set")
	}
	client, err := cache.NewRedisClient(rt.config.RedisURL, rt.config.RedisPassword)
	if err != nil {
		return nil, err
	}
	rt.redis = client
	return client, nil
}

func (rt *runtime) natsConn() (*nats.Conn, error) {
	if rt.nats != nil {
		return rt.nats, nil
	}
	conn, err := stream.ConnectNATS(rt.config.NATSURL, rt.config.NATSToken)
	if err != nil {
		return nil, err
	}
	rt.nats = conn
	return conn, nil
}

// source picks the push transport named by STREAM_TRANSPORT
func (rt *runtime) source() (stream.Source, error) {
	switch rt.config.StreamTransport {
	case config.TransportWebSocket:
		return stream.NewWebSocketSource(rt.config.GetWSURL(), rt.config.APIToken), nil
	case config.TransportRedis:
		client, err := rt.redisClient()
		if err != nil {
			return nil, err
		}
		return stream.NewRedisSource(client), nil
	case config.TransportNATS:
		conn, err := rt.natsConn()
		if err != nil {
			return nil, err
		}
		return stream.NewNATSSource(conn), nil
	default:
		return stream.NewSSESource(rt.config.APIURL, rt.config.APIToken), nil
	}
}

// newSession wires a game view with the configured transport and, when
// Redis is configured, the snapshot cache
func (rt *runtime) newSession() (*session.Session, error) {
	source, err := rt.source()
	if err != nil {
		return nil, err
	}

	opts := []session.Option{session.WithLogger(rt.logger)}
	// the backend books changes for the token subject
	if rt.config.APIToken != "" {
		actor, err := rt.player("")
		if err != nil {
			rt.logger.Warn("API_TOKEN has no readable subject, changes are not checked against it", "error", err)
		} else {
			opts = append(opts, session.WithActor(actor))
		}
	}
	if rt.config.CacheEnabled() {
		client, err := rt.redisClient()
		if err != nil {
			return nil, err
		}
		opts = append(opts, session.WithCache(cache.NewSnapshotCache(client, rt.config.SnapshotCacheTTL)))
	}

	return session.New(rt.apiClient(), source, opts...), nil
}

// player resolves an explicit player id or falls back to the subject of
// the configured API token
func (rt *runtime) player(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if rt.config.APIToken == "" {
		return "", fmt.Errorf("--player is required when API_TOKEN is not set")
	}
	identity, err := auth.ParseIdentity(rt.config.APIToken, time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to read player from API_TOKEN: %w", err)
	}
	return identity.UserID, nil
}

// journal connects to Postgres and migrates the settlement tables
func (rt *runtime) journal(ctx context.Context) (*repositories.SettlementJournal, func(), error) {
	if !rt.config.JournalEnabled() {
		return nil, nil, fmt.Errorf("DATABASE_URL or POSTGRES_HOST is required to journal settlements")
	}

	db, err := database.NewConnection(ctx, rt.config)
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(); err != nil {
		db.Close()
		return nil, nil, err
	}

	closeDB := func() {
		if err := db.Close(); err != nil {
			rt.logger.Warn("Failed to close database connection", "error", err)
		}
	}
	return repositories.NewSettlementJournal(db.DB), closeDB, nil
}

// formance returns a service for the configured ledger after checking it is
// reachable
func (rt *runtime) formance(ctx context.Context) (*formance.Service, error) {
	if !rt.config.FormanceEnabled() {
		return nil, fmt.Errorf("FORMANCE_API_URL is required to post settlements")
	}

	svc := formance.NewService(rt.config)
	if err := svc.Initialize(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

func (rt *runtime) Close() {
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Warn("Failed to close redis client", "error", err)
		}
	}
	if rt.nats != nil {
		rt.nats.Close()
	}
}
