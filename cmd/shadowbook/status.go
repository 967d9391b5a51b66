package main

import (
	"context"
	"fmt"
	"os"
)

func runStatusCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: shadowbook status")
		return 2
	}

	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.Close()

	qctx, cancel := a.queryCtx(ctx)
	defer cancel()
	stats, err := a.pool.SourceStats(qctx, a.cfg.UserID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return 1
	}

	fmt.Printf("user: %s\nstore: %s\n", a.cfg.UserID, a.cfg.DBPath)
	if len(stats) == 0 {
		fmt.Println("no synced contacts yet; run: shadowbook sync")
		return 0
	}
	for _, s := range stats {
		fmt.Printf("%-14s %6d contacts  last synced %s\n",
			s.Source, s.Rows, s.LastSyncedAt.Format("2006-01-02 15:04:05"))
	}
	return 0
}
