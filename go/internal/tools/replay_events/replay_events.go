package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/leadengine/syncgateway/go/internal/dbconfig"
	"github.com/leadengine/syncgateway/go/internal/publisher"
)

// replay_events plays a scripted auction into one of the gateway's event
// transports so the sync path can be exercised without the marketplace.
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	app := &cli.App{
		Name:  "replay_events",
		Usage: "publish a scripted lead auction to JetStream or pg_notify",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "transport",
				Usage: "log, jetstream or pgnotify",
				Value: "log",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				EnvVars: []string{"NATS_URL"},
				Value:   nats.DefaultURL,
			},
			&cli.StringFlag{
				Name:  "stream",
				Value: "LEAD_EVENTS",
			},
			&cli.StringFlag{
				Name:  "subject-prefix",
				Value: "leads.events",
			},
			&cli.StringFlag{
				Name:  "channel",
				Usage: "Postgres NOTIFY channel",
				Value: "lead_auction_events",
			},
			&cli.StringFlag{
				Name:     "lead",
				Usage:    "lead id to auction",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "vertical",
				Value: "solar",
			},
			&cli.DurationFlag{
				Name:  "duration",
				Value: time.Minute,
			},
			&cli.IntFlag{
				Name:  "bids",
				Value: 3,
			},
			&cli.Float64Flag{
				Name:  "speed",
				Usage: "playback speed, 0 publishes everything at once",
				Value: 1,
			},
			&cli.BoolFlag{
				Name:  "debug",
				Value: false,
			},
		},
		Before: func(cctx *cli.Context) error {
			level := zerolog.InfoLevel
			if cctx.Bool("debug") {
				level = zerolog.DebugLevel
			}
			zerolog.SetGlobalLevel(level)
			return nil
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Error().Err(err).Msg("replay failed")
		os.Exit(1)
	}
}

func run(cctx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pub, closeFn, err := openPublisher(ctx, cctx)
	if err != nil {
		return err
	}
	defer closeFn()

	cfg := publisher.DefaultScenarioConfig(cctx.String("lead"), cctx.String("vertical"))
	cfg.Duration = cctx.Duration("duration")
	cfg.Bids = cctx.Int("bids")

	steps, err := publisher.Scenario(cfg, time.Now())
	if err != nil {
		return err
	}

	n, err := publisher.Replay(ctx, pub, clockwork.NewRealClock(), steps, cctx.Float64("speed"))
	fmt.Printf("Replay complete: %d of %d events published\n", n, len(steps))
	return err
}

func openPublisher(ctx context.Context, cctx *cli.Context) (publisher.Publisher, func(), error) {
	switch transport := cctx.String("transport"); transport {
	case "log":
		return publisher.LogPublisher{}, func() {}, nil

	case "jetstream":
		nc, err := nats.Connect(cctx.String("nats-url"), nats.Name("replay_events"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to NATS: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("create JetStream context: %w", err)
		}
		prefix := cctx.String("subject-prefix")
		if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:       cctx.String("stream"),
			Subjects:   []string{prefix + ".>"},
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     24 * time.Hour,
			Duplicates: 2 * time.Minute,
		}); err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("ensure stream: %w", err)
		}
		return publisher.NewJetStreamPublisher(js, prefix), func() { _ = nc.Drain() }, nil

	case "pgnotify":
		pool, err := pgxpool.New(ctx, dbconfig.NewConfigFromEnv().DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		return publisher.NewPgNotifyPublisher(pool, cctx.String("channel")), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport %q", transport)
	}
}
