// Command hmactl is a read-only diagnostic CLI over an HMA coordination
// file: it decodes the DMS word, every client slot, and (optionally)
// every non-zero page-lock word, without taking any lock or mutating the
// mapping. It never touches the database the HMA coordinates, only the HMA
// file itself.
//
// It is grounded on go-ycsb's cmd/go-ycsb/main.go: a cobra root command
// with one subcommand per verb, built with github.com/spf13/cobra and
// github.com/spf13/pflag for subcommand-local flags.
package main

import (
	"fmt"
	"math/bits"
	"os"

	"github.com/spf13/cobra"

	"github.com/multipager/hma/common"
	"github.com/multipager/hma/hma"
)

var (
	clientSlots   int
	pageLockSlots int
	suffix        string
	showAllPages  bool
)

func main() {
	root := &cobra.Command{
		Use:   "hmactl",
		Short: "Inspect a multi-process page-lock HMA coordination file",
	}
	root.PersistentFlags().IntVar(&clientSlots, "client-slots", common.DefaultClientSlots, "number of client slots the HMA file was created with")
	root.PersistentFlags().IntVar(&pageLockSlots, "page-lock-slots", common.DefaultPageLockSlots, "number of page-lock slots the HMA file was created with")
	root.PersistentFlags().StringVar(&suffix, "hma-suffix", common.DefaultSuffix, "suffix appended to the database path to name its HMA file")

	root.AddCommand(newDumpCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newDumpCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <database-path>",
		Short: "Print the DMS word, every client slot, and any occupied page-lock words",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(args[0])
		},
	}
	cmd.Flags().BoolVar(&showAllPages, "all-pages", false, "print every page-lock word, including zero (empty) ones")
	return cmd
}

func runDump(dbPath string) error {
	layout := hma.Layout{ClientSlots: uint32(clientSlots), PageLockSlots: uint32(pageLockSlots)}
	hmaPath := dbPath + suffix

	m, err := hma.OpenReadOnly(hmaPath)
	if err != nil {
		return err
	}
	defer m.Close()

	if m.WordCount() != layout.WordCount() {
		fmt.Fprintf(os.Stderr, "warning: %s has %d words, expected %d for client-slots=%d page-lock-slots=%d\n",
			hmaPath, m.WordCount(), layout.WordCount(), clientSlots, pageLockSlots)
	}

	fmt.Printf("dms word:    %#08x (lock-anchor only, content has no meaning)\n", *m.Word(layout.DMSIndex()))

	for i := 0; i < clientSlots; i++ {
		v := *m.Word(layout.ClientIndex(i))
		state := "free"
		if v != 0 {
			state = "occupied-or-stale"
		}
		fmt.Printf("client %2d:   %#08x (%s)\n", i, v, state)
	}

	for p := uint32(0); p < layout.PageLockSlots; p++ {
		v := *m.Word(layout.PageIndex(p))
		if v == 0 && !showAllPages {
			continue
		}
		printPageWord(p, v, uint32(clientSlots))
	}
	return nil
}

func printPageWord(page uint32, v uint32, clientSlots uint32) {
	readMask := v & (uint32(1)<<clientSlots - 1)
	w := int(v>>clientSlots) - 1

	writer := "none"
	if w >= 0 {
		writer = fmt.Sprintf("client %d", w)
	}

	readers := make([]int, 0, bits.OnesCount32(readMask))
	for i := uint32(0); i < clientSlots; i++ {
		if readMask&(1<<i) != 0 {
			readers = append(readers, int(i))
		}
	}

	fmt.Printf("page %6d: %#08x  writer=%-10s readers=%v\n", page, v, writer, readers)
}
