package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/basket/shadowbook/internal/identity"
)

func runListCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	limit := fs.Int("limit", 50, "maximum contacts to show")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "usage: shadowbook list [-limit N]")
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
	contacts, err := a.pool.Sorted(qctx, a.cfg.UserID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list: %v\n", err)
		return 1
	}
	if *limit > 0 && len(contacts) > *limit {
		contacts = contacts[:*limit]
	}
	printContacts(contacts)
	return 0
}

func runSearchCommand(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: shadowbook search <query>")
		return 2
	}
	query := strings.Join(args, " ")

	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.Close()

	qctx, cancel := a.queryCtx(ctx)
	defer cancel()
	contacts, err := a.pool.Search(qctx, a.cfg.UserID, query, 50)
	if err != nil {
		fmt.Fprintf(os.Stderr, "search: %v\n", err)
		return 1
	}
	if len(contacts) == 0 {
		fmt.Println("no matches")
		return 0
	}
	printContacts(contacts)
	return 0
}

func printContacts(contacts []identity.Contact) {
	for _, c := range contacts {
		last := "never"
		if c.LastMessageAt != nil {
			last = c.LastMessageAt.Format("2006-01-02 15:04")
		}
		name := c.Name
		if name == "" {
			name = "(no name)"
		}
		fields := []string{name}
		if len(c.Phones) > 0 {
			fields = append(fields, strings.Join(c.Phones, ", "))
		}
		if len(c.Emails) > 0 {
			fields = append(fields, strings.Join(c.Emails, ", "))
		}
		if c.Company != "" {
			fields = append(fields, c.Company)
		}
		marker := " "
		if c.FromImport {
			marker = "*"
		}
		fmt.Printf("%s %-40s  last: %s  [%s]\n", marker, strings.Join(fields, " | "), last, c.Source)
	}
}
