package schema

import _ "embed"

// SampleDocument is a three-level grain, molecule and atom document used by
// the demo workload and the tests.
//
//go:embed samples/grains.json
var SampleDocument []byte

// Names of the schemas in SampleDocument.
const (
	SampleGrain    = "grain"
	SampleMolecule = "molecule"
	SampleAtom     = "atom"
)
