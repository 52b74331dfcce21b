package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/anhbaysgalan1/homegame/internal/ledger"
	"github.com/anhbaysgalan1/homegame/internal/models"
	"github.com/anhbaysgalan1/homegame/internal/settlement"
	"github.com/shopspring/decimal"
)

// zero means the time the change is recorded
var zeroTime time.Time

type changeSession interface {
	RecordBuyIn(ctx context.Context, playerID string, amount decimal.Decimal, at time.Time) (*models.GameSession, error)
	RecordCashOut(ctx context.Context, playerID string, amount decimal.Decimal, at time.Time) (*models.GameSession, error)
}

type changeFunc func(ctx context.Context, s changeSession, player string, amount decimal.Decimal) (*models.GameSession, error)

// recordChange mounts the game, records one buy-in or cash-out and prints
// the backend's confirmation
func recordChange(rt *runtime, gameID, explicitPlayer, rawAmount, kind string, record changeFunc) error {
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", rawAmount, err)
	}
	player, err := rt.player(explicitPlayer)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	sess, err := rt.newSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Mount(ctx, gameID); err != nil {
		return err
	}

	confirmed, err := record(ctx, sess, player, amount)
	if err != nil {
		return err
	}

	fmt.Printf("Recorded %s of %s for %s\n", kind, amount.String(), player)
	if confirmed != nil {
		printLedger(ledger.State{Session: confirmed})
	}
	return nil
}

func printLedger(st ledger.State) {
	gs := st.Session

	marker := ""
	if st.Optimistic {
		marker = " (pending)"
	}
	fmt.Printf("\n%s  %s  %s%s\n", gs.ID, gs.Status, gs.Duration, marker)
	fmt.Printf("Pot %s, available to cash out %s\n", gs.TotalPot.String(), gs.AvailableCashOut.String())

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PLAYER\tBUY-INS\tCASH-OUT\tNET")
	for i := range gs.Players {
		p := &gs.Players[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Username, p.TotalBuyIn().String(), p.CashOut.String(), p.NetProfit.String())
	}
	w.Flush()
}

func printSummary(summary *settlement.Summary) {
	fmt.Printf("%s at %s, %s, pot %s\n", summary.GameID, summary.Venue, summary.Duration, summary.TotalPot.String())
	if summary.Winner != nil {
		fmt.Printf("Winner: %s (+%s)\n", summary.Winner.Username, summary.Winner.NetProfit.String())
	}
	if len(summary.Transfers) == 0 {
		fmt.Println("Nobody owes anything")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FROM\tTO\tAMOUNT")
	for _, t := range summary.Transfers {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.FromUsername, t.ToUsername, t.Amount.String())
	}
	w.Flush()
}
