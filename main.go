// Command sharc is a minimal demonstration binary: it opens a database file
// (creating it if absent), prints the header and schema, and exits. It is
// not the CLI surface described by spec §1 ("the command-line tools" are an
// external collaborator) — just enough to exercise Open end to end.
package main

import (
	"fmt"
	"os"

	sharc "github.com/sharc-db/sharc/pkg"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: sharc <database-file>")
		os.Exit(1)
	}
	path := os.Args[1]

	db, err := sharc.Open(sharc.Options{Path: path, Writable: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", path, err)
		os.Exit(1)
	}
	defer db.Close()

	h := db.Pager().Header()
	fmt.Printf("page size:    %d\n", h.PageSize)
	fmt.Printf("page count:   %d\n", h.DatabaseSizePages)
	fmt.Printf("change ctr:   %d\n", h.ChangeCounter)
	fmt.Printf("schema cookie: %d\n", h.SchemaCookie)

	fmt.Println("tables:")
	for _, name := range db.Schema().Tables() {
		table, err := db.Schema().Table(name)
		if err != nil {
			continue
		}
		fmt.Printf("  %s (root page %d, %d columns)\n", name, table.RootPage, len(table.Columns))
	}
}
