package main

import (
	"context"
	"fmt"
	"os"
)

func runImportCommand(ctx context.Context, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: shadowbook import <file.json>")
		return 2
	}

	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.Close()

	res, err := a.svc.ImportFile(ctx, a.cfg.UserID, args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "import: %v\n", err)
		return 1
	}
	fmt.Printf("imported %d new, merged %d, skipped %d\n", res.Added, res.Merged, res.Skipped)
	return 0
}
