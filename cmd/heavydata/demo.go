package main

import (
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/VanDung-dev/HeavyData-Engine/heavydata"
	"github.com/VanDung-dev/HeavyData-Engine/schema"
	"github.com/VanDung-dev/HeavyData-Engine/units"
)

// demoConfig sizes the generated grain workload.
type demoConfig struct {
	Path         string
	Grains       int
	MinMolecules int
	MaxMolecules int
	MinAtoms     int
	MaxAtoms     int
	Seed         uint64
}

func newDemoCommand(g *globals) *cobra.Command {
	cfg := demoConfig{
		Path:         filepath.Join(os.TempDir(), "grains.bolt"),
		Grains:       5,
		MinMolecules: 5,
		MaxMolecules: 50,
		MinAtoms:     30,
		MaxAtoms:     60,
	}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Write and read back a sample grain file",
		Long: `
Creates a file of grains, each holding a random number of molecules, each
holding a random number of atoms, then reads every atom back. Prints the
throughput of both passes.
`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			if cfg.MinMolecules > cfg.MaxMolecules || cfg.MinAtoms > cfg.MaxAtoms {
				return fmt.Errorf("minimum above maximum")
			}
			if cfg.Seed == 0 {
				cfg.Seed = uint64(time.Now().UnixNano())
			}
			if err := makeGrains(g, cfg); err != nil {
				return err
			}
			return readGrains(g, cfg.Path)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&cfg.Path, "path", "p", cfg.Path, "file to create, overwritten if present")
	flags.IntVar(&cfg.Grains, "grains", cfg.Grains, "number of grains")
	flags.IntVar(&cfg.MinMolecules, "min-molecules", cfg.MinMolecules, "minimum molecules per grain")
	flags.IntVar(&cfg.MaxMolecules, "max-molecules", cfg.MaxMolecules, "maximum molecules per grain")
	flags.IntVar(&cfg.MinAtoms, "min-atoms", cfg.MinAtoms, "minimum atoms per molecule")
	flags.IntVar(&cfg.MaxAtoms, "max-atoms", cfg.MaxAtoms, "maximum atoms per molecule")
	flags.Uint64Var(&cfg.Seed, "seed", 0, "random seed, 0 picks one")
	return cmd
}

var demoElements = []string{"H", "N", "Cl", "Na", "Fe"}

func between(r *rand.Rand, lo, hi int) int {
	return lo + r.IntN(hi-lo+1)
}

func makeGrains(g *globals, cfg demoConfig) error {
	r := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed>>1))
	start := time.Now()
	atomCount := 0

	h := heavydata.New(cfg.Path, g.handleOptions()...)
	grains, err := h.Open(heavydata.ModeOverwrite, heavydata.WithSchemas(schema.SampleGrain, schema.SampleDocument))
	if err != nil {
		return err
	}
	defer h.Close(false)

	if err := grains.Resize(cfg.Grains, false); err != nil {
		return err
	}
	fmt.Fprintf(g.stdout, "There are %d grains.\n", cfg.Grains)
	for grain, err := range grains.Rows() {
		if err != nil {
			return err
		}
		molecules, err := grain.Ref("molecules")
		if err != nil {
			return err
		}
		if err := molecules.Resize(between(r, cfg.MinMolecules, cfg.MaxMolecules), false); err != nil {
			return err
		}
		n, _ := molecules.Len()
		fmt.Fprintf(g.stdout, "Grain #%d has %d molecules\n", grain.Row(), n)

		for molecule, err := range molecules.Rows() {
			if err != nil {
				return err
			}
			n, err := fillMolecule(molecule, r, cfg)
			if err != nil {
				return err
			}
			atomCount += n
		}
	}
	if err := h.Close(false); err != nil {
		return err
	}

	report(g.stdout, atomCount, "created", time.Since(start))
	return nil
}

func fillMolecule(molecule *heavydata.RowContext, r *rand.Rand, cfg demoConfig) (int, error) {
	weight := units.Quantity{Value: float64(between(r, 1, 10)), Unit: "yg"}
	if err := molecule.Set("identity.molecularWeight", weight); err != nil {
		return 0, err
	}
	atoms, err := molecule.Ref("atoms")
	if err != nil {
		return 0, err
	}
	if err := atoms.Resize(between(r, cfg.MinAtoms, cfg.MaxAtoms), false); err != nil {
		return 0, err
	}

	count := 0
	for atom, err := range atoms.Rows() {
		if err != nil {
			return count, err
		}
		structure := make([]int64, between(r, 5, 20))
		for i := range structure {
			structure[i] = int64(between(r, 1, 20))
		}
		values := []struct {
			name  string
			value any
		}{
			{"identity.element", demoElements[r.IntN(len(demoElements))]},
			{"properties.topology.position", units.Quantity{Value: []float64{1, 2, 3}, Unit: "nm"}},
			{"properties.topology.velocity", units.Quantity{Value: []float64{24, 5, 77}, Unit: "m/s"}},
			{"properties.topology.structure", structure},
		}
		for _, v := range values {
			if err := atom.Set(v.name, v.value); err != nil {
				return count, err
			}
		}
		count++
	}
	return count, nil
}

// readGrains reads every atom back using only the schemas stored in the file.
func readGrains(g *globals, path string) error {
	start := time.Now()
	atomCount := 0

	h := heavydata.New(path, g.handleOptions()...)
	grains, err := h.Open(heavydata.ModeReadOnly)
	if err != nil {
		return err
	}
	defer h.Close(false)

	for grain, err := range grains.Rows() {
		if err != nil {
			return err
		}
		molecules, err := grain.Ref("molecules")
		if err != nil {
			return err
		}
		n, err := molecules.Len()
		if err != nil {
			return err
		}
		fmt.Fprintf(g.stdout, "Grain #%d has %d molecules.\n", grain.Row(), n)
		for molecule, err := range molecules.Rows() {
			if err != nil {
				return err
			}
			if _, err := molecule.Get("identity.molecularWeight"); err != nil {
				return err
			}
			atoms, err := molecule.Ref("atoms")
			if err != nil {
				return err
			}
			for atom, err := range atoms.Rows() {
				if err != nil {
					return err
				}
				for _, name := range []string{
					"identity.element",
					"properties.topology.position",
					"properties.topology.velocity",
					"properties.topology.structure",
				} {
					if _, err := atom.Get(name); err != nil {
						return err
					}
				}
				atomCount++
			}
		}
	}

	report(g.stdout, atomCount, "read", time.Since(start))
	return nil
}

func report(w io.Writer, atoms int, verb string, d time.Duration) {
	rate := float64(atoms) / d.Seconds()
	fmt.Fprintf(w, "%d atoms %s in %.3g sec (%.4g/sec).\n", atoms, verb, d.Seconds(), rate)
}
