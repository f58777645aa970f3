// Command hmaclient is a test helper: it connects to one database's HMA
// as a single client, takes one page lock (page 0 unless --page is
// given), and prints one
// status line per step to stdout so a parent test process (spawned via
// os/exec) can synchronize against a real second OS process — the only
// way to exercise cross-process liveness and crash
// recovery paths, which a single-process test can't reach.
//
// It uses github.com/spf13/pflag directly rather than cobra: a single
// fixed flag set with no subcommands, matching the leaner flag-parsing
// style this corpus uses for single-purpose helper binaries rather than
// multi-verb CLIs (contrast cmd/hmactl, which has subcommands and so
// uses cobra).
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/multipager/hma/common"
	"github.com/multipager/hma/config"
	"github.com/multipager/hma/pagelock"
	"github.com/multipager/hma/server"
)

func main() {
	dbPath := pflag.String("db", "", "path to the main database file")
	page := pflag.Uint32("page", 0, "page number to lock after connecting")
	write := pflag.Bool("write", false, "request EXCLUSIVE instead of SHARED")
	blocking := pflag.Bool("blocking", false, "block on conflict instead of returning Busy/BusyDeadlock")
	begin := pflag.Bool("begin", false, "call Begin (acquire the sentinel page-0 lock and a long-held exclusive client-slot OS lock) before locking the page")
	holdStdin := pflag.Bool("hold-stdin", false, "after locking, wait for a line on stdin before End/Disconnect")
	clientSlots := pflag.Int("client-slots", common.DefaultClientSlots, "must match every other process sharing this HMA")
	pageLockSlots := pflag.Int("page-lock-slots", common.DefaultPageLockSlots, "must match every other process sharing this HMA")
	pflag.Parse()

	if *dbPath == "" {
		fmt.Println("ERROR missing --db")
		os.Exit(2)
	}

	pager, err := server.OpenFilePager(*dbPath)
	if err != nil {
		fmt.Printf("ERROR open pager: %v\n", err)
		os.Exit(1)
	}
	defer pager.Close()

	cfg := config.Default()
	cfg.ClientSlots = *clientSlots
	cfg.PageLockSlots = *pageLockSlots
	engine := server.New(cfg, pagelock.NopLogger())
	conn, err := engine.Connect(pager)
	if err != nil {
		fmt.Printf("ERROR connect: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("CONNECTED %d\n", conn.ClientID())

	if *begin {
		if err := conn.Begin(); err != nil {
			fmt.Printf("ERROR begin: %v\n", err)
			os.Exit(1)
		}
	}

	if err := conn.Lock(*page, *write, *blocking); err != nil {
		switch common.KindOf(err) {
		case common.KindBusy:
			fmt.Println("BUSY")
		case common.KindBusyDeadlock:
			fmt.Println("BUSY_DEADLOCK")
		default:
			fmt.Printf("ERROR lock: %v\n", err)
		}
		conn.Disconnect()
		os.Exit(0)
	}
	fmt.Println("LOCKED")

	if *holdStdin {
		bufio.NewScanner(os.Stdin).Scan()
	}

	if err := conn.End(); err != nil {
		fmt.Printf("ERROR end: %v\n", err)
	}
	conn.Disconnect()
	fmt.Println("DONE")
}
