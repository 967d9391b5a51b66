package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/basket/shadowbook/internal/identity"
)

func runSyncCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	srcFlag := fs.String("source", "", "sync only this source (backup, address_book, mailbox)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "usage: shadowbook sync [-source S]")
		return 2
	}

	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.Close()

	if *srcFlag != "" {
		src, err := identity.ParseSource(*srcFlag)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		res, err := a.svc.FullSync(ctx, a.cfg.UserID, src)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sync %s: %v\n", src, err)
			return 1
		}
		fmt.Printf("%s: %d inserted, %d updated, %d deleted, %d skipped (%d total)\n",
			src, res.Inserted, res.Updated, res.Deleted, res.Skipped, res.Total)
		return 0
	}

	results, err := a.svc.SyncAll(ctx, a.cfg.UserID, a.precedence)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sync: %v\n", err)
		return 1
	}
	if len(results) == 0 {
		fmt.Println("no sources enabled; edit sources in config.yaml")
		return 0
	}
	for _, r := range results {
		if r.Skipped {
			fmt.Printf("%s: skipped (unavailable)\n", r.Source)
			continue
		}
		fmt.Printf("%s: %d inserted, %d updated, %d deleted, %d skipped (%d total)\n",
			r.Source, r.Result.Inserted, r.Result.Updated, r.Result.Deleted, r.Result.Skipped, r.Result.Total)
	}
	return 0
}
