// Command immuxctl is a local inspector for an immux-go data
// directory: it opens an executor directly in-process and runs a
// single one-shot operation named on the command line. It is not a
// server — there is no listening socket, request routing, or protocol
// of its own; it is a thin caller over pkg/executor.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/bobboyms/immux-go/internal/config"
	"github.com/bobboyms/immux-go/pkg/content"
	"github.com/bobboyms/immux-go/pkg/executor"
)

func main() {
	dir := flag.String("dir", "./data", "data directory")
	sentryDSN := flag.String("sentry-dsn", "", "sentry DSN for corruption reporting (optional)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: immuxctl -dir <path> <get|set|remove|inspect> [args...]")
		os.Exit(2)
	}

	cfg := config.DefaultConfig(*dir)
	cfg.SentryDSN = *sentryDSN

	x, err := executor.Open(cfg)
	if err != nil {
		fatalf("open %s: %v", *dir, err)
	}
	defer x.Close()

	switch args[0] {
	case "get":
		if len(args) != 2 {
			fatalf("usage: immuxctl get <key>")
		}
		value, ok, err := x.Get(executor.UnitKey(args[1]), nil)
		if err != nil {
			fatalf("get: %v", err)
		}
		if !ok {
			fmt.Println("Nil")
			return
		}
		fmt.Printf("%#v\n", value)

	case "set":
		if len(args) != 3 {
			fatalf("usage: immuxctl set <key> <literal>")
		}
		value, err := content.ParseLiteral(args[2])
		if err != nil {
			fatalf("parse value: %v", err)
		}
		if err := x.Set(executor.UnitKey(args[1]), value, nil); err != nil {
			fatalf("set: %v", err)
		}

	case "remove":
		if len(args) != 2 {
			fatalf("usage: immuxctl remove <key>")
		}
		if err := x.RemoveOne(executor.UnitKey(args[1]), nil); err != nil {
			fatalf("remove: %v", err)
		}

	case "inspect":
		var records []executor.Instruction
		if len(args) == 2 {
			records, err = x.InspectOne(executor.UnitKey(args[1]))
		} else {
			records, err = x.InspectAll()
		}
		if err != nil {
			fatalf("inspect: %v", err)
		}
		for _, rec := range records {
			fmt.Printf("height=%d kind=%s key=%q value=%#v\n", rec.Height, rec.Kind, rec.Key, rec.Value)
		}

	default:
		fatalf("unknown command %q", args[0])
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
