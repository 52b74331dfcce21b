package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/anhbaysgalan1/homegame/internal/cache"
	"github.com/anhbaysgalan1/homegame/internal/config"
	"github.com/anhbaysgalan1/homegame/internal/formance"
	"github.com/anhbaysgalan1/homegame/internal/handlers"
	"github.com/anhbaysgalan1/homegame/internal/ledger"
	"github.com/anhbaysgalan1/homegame/internal/models"
	"github.com/anhbaysgalan1/homegame/internal/server"
	"github.com/anhbaysgalan1/homegame/internal/settlement"
	"github.com/anhbaysgalan1/homegame/internal/stream"
	"github.com/shopspring/decimal"
)

type WatchCmd struct {
	Game string `arg:"" help:"Game id"`
}

func (c *WatchCmd) Run(rt *runtime) error {
	ctx, stop := signalContext()
	defer stop()

	sess, err := rt.newSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	return sess.View(ctx, c.Game, func(ctx context.Context, r ledger.Reader) error {
		updates, unsubscribe := r.Subscribe()
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sess.StreamDone():
				return sess.StreamErr()
			case st := <-updates:
				if st.Session != nil {
					printLedger(st)
				}
			}
		}
	})
}

type BuyInCmd struct {
	Game   string `arg:"" help:"Game id"`
	Amount string `arg:"" help:"Amount to add"`
	Player string `help:"Player id (defaults to the API_TOKEN subject)"`
}

func (c *BuyInCmd) Run(rt *runtime) error {
	return recordChange(rt, c.Game, c.Player, c.Amount, "buy-in", func(ctx context.Context, s changeSession, player string, amount decimal.Decimal) (*models.GameSession, error) {
		return s.RecordBuyIn(ctx, player, amount, zeroTime)
	})
}

type CashOutCmd struct {
	Game   string `arg:"" help:"Game id"`
	Amount string `arg:"" help:"Amount to take off the table"`
	Player string `help:"Player id (defaults to the API_TOKEN subject)"`
}

func (c *CashOutCmd) Run(rt *runtime) error {
	return recordChange(rt, c.Game, c.Player, c.Amount, "cash-out", func(ctx context.Context, s changeSession, player string, amount decimal.Decimal) (*models.GameSession, error) {
		return s.RecordCashOut(ctx, player, amount, zeroTime)
	})
}

type CompleteCmd struct {
	Game string `arg:"" help:"Game id"`
}

func (c *CompleteCmd) Run(rt *runtime) error {
	ctx, stop := signalContext()
	defer stop()

	sess, err := rt.newSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Mount(ctx, c.Game); err != nil {
		return err
	}
	confirmed, err := sess.CompleteGame(ctx)
	if err != nil {
		return err
	}
	if confirmed == nil {
		fmt.Printf("Completed game %s\n", c.Game)
		return nil
	}
	printLedger(ledger.State{Session: confirmed})
	return nil
}

type SettleCmd struct {
	Game   string `arg:"" help:"Game id"`
	Record bool   `help:"Journal the settlement in Postgres"`
	Post   bool   `help:"Post the settlement to the Formance ledger"`
}

func (c *SettleCmd) Run(rt *runtime) error {
	ctx, stop := signalContext()
	defer stop()

	gs, err := rt.apiClient().GetGame(ctx, c.Game)
	if err != nil {
		return err
	}
	summary, err := settlement.Summarize(gs)
	if err != nil {
		return err
	}
	printSummary(summary)

	if c.Record {
		journal, closeJournal, err := rt.journal(ctx)
		if err != nil {
			return err
		}
		defer closeJournal()

		record, created, err := journal.Record(ctx, summary, gs)
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("Recorded settlement %s\n", record.ID)
		} else {
			fmt.Printf("Settlement already recorded as %s\n", record.ID)
		}
	}

	if c.Post {
		svc, err := rt.formance(ctx)
		if err != nil {
			return err
		}
		txID, err := svc.PostSettlement(ctx, summary.GameID, summary.Transfers)
		switch {
		case errors.Is(err, formance.ErrAlreadyPosted):
			fmt.Printf("Settlement already posted as transaction %s\n", txID)
		case err != nil:
			return err
		default:
			fmt.Printf("Posted settlement as transaction %s\n", txID)
		}
	}
	return nil
}

type HistoryCmd struct {
	Player string `help:"Player id (defaults to the API_TOKEN subject)"`
	Limit  int    `default:"20" help:"Rows to show"`
	Offset int    `default:"0" help:"Rows to skip"`
}

func (c *HistoryCmd) Run(rt *runtime) error {
	ctx, stop := signalContext()
	defer stop()

	player, err := rt.player(c.Player)
	if err != nil {
		return err
	}

	journal, closeJournal, err := rt.journal(ctx)
	if err != nil {
		return err
	}
	defer closeJournal()

	rows, err := journal.ListForPlayer(ctx, player, c.Limit, c.Offset)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FROM\tTO\tAMOUNT")
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\n", row.FromUsername, row.ToUsername, row.Amount.String())
	}
	return w.Flush()
}

type BalanceCmd struct {
	Player string `help:"Player id (defaults to the API_TOKEN subject)"`
}

func (c *BalanceCmd) Run(rt *runtime) error {
	ctx, stop := signalContext()
	defer stop()

	player, err := rt.player(c.Player)
	if err != nil {
		return err
	}

	svc, err := rt.formance(ctx)
	if err != nil {
		return err
	}
	balance, err := svc.PlayerBalance(ctx, player)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", player, balance.String())
	return nil
}

type RelayCmd struct {
	Game  string `arg:"" help:"Game id"`
	Redis bool   `default:"true" negatable:"" help:"Publish to the Redis channel game:{id}"`
	NATS  bool   `name:"nats" help:"Publish to the NATS subject games.{id}"`
}

func (c *RelayCmd) Run(rt *runtime) error {
	switch rt.config.StreamTransport {
	case config.TransportRedis, config.TransportNATS:
		return fmt.Errorf("relay reads from the backend; set STREAM_TRANSPORT to sse or websocket")
	}

	var publishers []stream.Publisher
	if c.Redis {
		client, err := rt.redisClient()
		if err != nil {
			return err
		}
		snapshots := cache.NewSnapshotCache(client, rt.config.SnapshotCacheTTL)
		publishers = append(publishers, stream.PublisherFunc(func(ctx context.Context, gs *models.GameSession) error {
			return snapshots.Publish(ctx, stream.GameChannel(gs.ID), gs)
		}))
	}
	if c.NATS {
		conn, err := rt.natsConn()
		if err != nil {
			return err
		}
		publishers = append(publishers, stream.NewNATSPublisher(conn))
	}
	if len(publishers) == 0 {
		return fmt.Errorf("nothing to relay to")
	}

	ctx, stop := signalContext()
	defer stop()

	sess, err := rt.newSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	return sess.View(ctx, c.Game, func(ctx context.Context, r ledger.Reader) error {
		rt.logger.Info("Relaying game", "game_id", c.Game, "publishers", len(publishers))
		return stream.Relay(ctx, r, rt.logger, publishers...)
	})
}

type ServeCmd struct {
	Game   string `help:"Game to mount on start"`
	Record bool   `help:"Journal settlements in Postgres"`
	Post   bool   `help:"Post settlements to the Formance ledger"`
}

func (c *ServeCmd) Run(rt *runtime) error {
	ctx, stop := signalContext()
	defer stop()

	sess, err := rt.newSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	var opts []handlers.ViewOption

	if c.Record {
		journal, closeJournal, err := rt.journal(ctx)
		if err != nil {
			return err
		}
		defer closeJournal()
		opts = append(opts, handlers.WithJournal(journal))
	}

	if c.Post {
		svc, err := rt.formance(ctx)
		if err != nil {
			return err
		}
		opts = append(opts, handlers.WithSettlementPoster(svc))
	}

	if c.Game != "" {
		if err := sess.Mount(ctx, c.Game); err != nil {
			return err
		}
	}

	return server.NewLedgerServer(rt.config, sess, rt.logger, opts...).Run(ctx)
}
