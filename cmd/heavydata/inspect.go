package main

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/VanDung-dev/HeavyData-Engine/arrowstore"
	"github.com/VanDung-dev/HeavyData-Engine/errdefs"
	"github.com/VanDung-dev/HeavyData-Engine/heavydata"
)

func newInspectCommand(g *globals) *cobra.Command {
	var tree bool
	c := &cobra.Command{
		Use:   "inspect PATH",
		Short: "Summarize the content of a heavy data file",
		Long: `
Prints the stored schemas and the number of records of every schema
reachable from the root table. With --tree it also lists every group
and dataset stored below the data group.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if err := inspect(g, args[0]); err != nil {
				return err
			}
			if tree {
				return inspectTree(g, args[0])
			}
			return nil
		},
	}
	c.Flags().BoolVar(&tree, "tree", false, "list the stored groups and datasets")
	return c
}

func inspect(g *globals, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	h := heavydata.New(path, g.handleOptions()...)
	root, err := h.Open(heavydata.ModeReadOnly)
	if err != nil {
		return err
	}
	defer h.Close(false)

	reg, err := h.SchemaRegistry()
	if err != nil {
		return err
	}
	counts := make(map[string]int)
	if err := countRecords(root, counts); err != nil {
		return err
	}

	w := g.stdout
	fmt.Fprintf(w, "file:    %s (%d bytes)\n", path, info.Size())
	fmt.Fprintf(w, "group:   %s\n", h.Group())
	fmt.Fprintf(w, "schemas: %s\n", strings.Join(reg.Names(), ", "))
	fmt.Fprintf(w, "root:    %s\n", root.Schema().Name)
	for _, name := range reg.Names() {
		fmt.Fprintf(w, "  %-12s %d records\n", name, counts[name])
	}
	return nil
}

func inspectTree(g *globals, path string) error {
	opts := arrowstore.DefaultOptions()
	opts.ReadOnly = true
	if g.logger != nil {
		opts.Logger = g.logger
	}
	f, err := arrowstore.Open(path, opts)
	if err != nil {
		return err
	}
	defer f.Close()

	top := f.Group(g.group)
	fmt.Fprintf(g.stdout, "tree:\n  %s\n", top.Path())
	return printGroup(g.stdout, top, 2)
}

// printGroup writes the datasets and then the subgroups of grp, one per
// line, indented by depth.
func printGroup(w io.Writer, grp *arrowstore.Group, depth int) error {
	indent := strings.Repeat("  ", depth)
	datasets, err := grp.Datasets()
	if err != nil {
		return err
	}
	slices.Sort(datasets)
	for _, name := range datasets {
		n, err := grp.Dataset(name).Len()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s%s [%d]\n", indent, name, n)
	}
	children, err := grp.Children()
	if err != nil {
		return err
	}
	slices.SortFunc(children, compareGroupNames)
	for _, name := range children {
		fmt.Fprintf(w, "%s%s/\n", indent, name)
		if err := printGroup(w, grp.Child(name), depth+1); err != nil {
			return err
		}
	}
	return nil
}

// compareGroupNames orders row groups numerically and everything else
// lexically.
func compareGroupNames(a, b string) int {
	x, errA := strconv.Atoi(a)
	y, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return cmp.Compare(x, y)
	}
	return strings.Compare(a, b)
}

// countRecords adds the records of table and of every table below it to
// counts, keyed by schema name.
func countRecords(table *heavydata.RowContext, counts map[string]int) error {
	n, err := table.Len()
	if errors.Is(err, errdefs.ErrState) {
		return nil // never sized
	}
	if err != nil {
		return err
	}
	counts[table.Schema().Name] += n

	refs := table.Schema().Refs
	if len(refs) == 0 {
		return nil
	}
	for row, err := range table.Rows() {
		if err != nil {
			return err
		}
		for _, ref := range refs {
			child, err := row.Ref(ref.Name)
			if err != nil {
				return err
			}
			if err := countRecords(child, counts); err != nil {
				return err
			}
		}
	}
	return nil
}
