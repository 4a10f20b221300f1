package evolution

import (
	"fmt"

	"github.com/pthm-cable/racer/genome"
)

// Provenance tags how a genome entered the next population.
type Provenance uint8

const (
	ProvenanceOffspring Provenance = iota
	ProvenanceElite
	ProvenanceHallOfFame
	ProvenanceRandom
)

var provenanceNames = [...]string{"offspring", "elite", "hall_of_fame", "random"}

func (p Provenance) String() string {
	if int(p) < len(provenanceNames) {
		return provenanceNames[p]
	}
	return fmt.Sprintf("provenance(%d)", p)
}

// MarshalText implements encoding.TextMarshaler.
func (p Provenance) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Lineage is one parent-to-child edge set.
type Lineage struct {
	Child      genome.ID   `json:"child"`
	Parents    []genome.ID `json:"parents,omitempty"`
	Provenance Provenance  `json:"provenance"`
}

// Genealogy records every genome produced by one evolve step.
type Genealogy struct {
	Epoch   int       `json:"epoch"`
	Records []Lineage `json:"records"`
}

// Record appends an edge set.
func (g *Genealogy) Record(child genome.ID, prov Provenance, parents ...genome.ID) {
	g.Records = append(g.Records, Lineage{Child: child, Parents: parents, Provenance: prov})
}

// Counts returns the number of records per provenance.
func (g *Genealogy) Counts() map[Provenance]int {
	out := make(map[Provenance]int, len(provenanceNames))
	for _, r := range g.Records {
		out[r.Provenance]++
	}
	return out
}

// Parents returns the recorded parents of child.
func (g *Genealogy) Parents(child genome.ID) ([]genome.ID, bool) {
	for _, r := range g.Records {
		if r.Child == child {
			return r.Parents, true
		}
	}
	return nil, false
}
