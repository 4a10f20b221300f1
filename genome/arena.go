package genome

import (
	"fmt"
	"math/rand"
	"sort"
)

// aliasWords seed the display alias; the id suffix keeps aliases unique.
var aliasWords = []string{
	"apex", "bolt", "comet", "drift", "ember", "flux", "gale", "haste",
	"ion", "jolt", "kite", "lynx", "mako", "nova", "orbit", "pulse",
	"quill", "rally", "spark", "torque", "ultra", "vortex", "whirl", "zephyr",
}

// Arena owns every live genome and hands out ids.
// Other structures (vehicles, networks, hall of fame entries, genealogy)
// hold IDs rather than genome pointers.
type Arena struct {
	length  int
	nextID  ID
	genomes map[ID]*Genome
}

// NewArena creates an arena for genomes of the given length.
func NewArena(length int) *Arena {
	return &Arena{
		length:  length,
		nextID:  1,
		genomes: make(map[ID]*Genome),
	}
}

// GenomeLength returns the fixed gene count of genomes in this arena.
func (a *Arena) GenomeLength() int {
	return a.length
}

// Len returns the number of live genomes.
func (a *Arena) Len() int {
	return len(a.genomes)
}

func (a *Arena) allocate() (ID, string) {
	id := a.nextID
	a.nextID++
	alias := fmt.Sprintf("%s-%d", aliasWords[int(id)%len(aliasWords)], id)
	return id, alias
}

// New creates a zeroed genome.
func (a *Arena) New() *Genome {
	id, alias := a.allocate()
	g := &Genome{ID: id, Alias: alias, Genes: make([]float64, a.length)}
	a.genomes[id] = g
	return g
}

// NewRandom creates a genome with genes uniform in [-scale, scale].
func (a *Arena) NewRandom(scale float64, rng *rand.Rand) *Genome {
	g := a.New()
	g.Randomize(scale, rng)
	return g
}

// Spawn registers a new genome that takes ownership of genes.
func (a *Arena) Spawn(genes []float64) (*Genome, error) {
	if len(genes) != a.length {
		return nil, fmt.Errorf("spawn: %w: got %d genes, arena holds %d", ErrLength, len(genes), a.length)
	}
	id, alias := a.allocate()
	g := &Genome{ID: id, Alias: alias, Genes: genes}
	a.genomes[id] = g
	return g, nil
}

// Put registers an externally built genome (e.g. deserialized) under its own id.
// The id counter is advanced past it so later allocations never collide.
func (a *Arena) Put(g *Genome) error {
	if len(g.Genes) != a.length {
		return fmt.Errorf("put %d: %w: got %d genes, arena holds %d", g.ID, ErrLength, len(g.Genes), a.length)
	}
	if g.ID == 0 {
		g.ID, g.Alias = a.allocate()
	}
	if g.Alias == "" {
		g.Alias = fmt.Sprintf("%s-%d", aliasWords[int(g.ID)%len(aliasWords)], g.ID)
	}
	if g.ID >= a.nextID {
		a.nextID = g.ID + 1
	}
	a.genomes[g.ID] = g
	return nil
}

// Get returns the genome for id, or nil if it is not live.
func (a *Arena) Get(id ID) *Genome {
	return a.genomes[id]
}

// MustGet is like Get but panics for unknown ids.
func (a *Arena) MustGet(id ID) *Genome {
	g := a.genomes[id]
	if g == nil {
		panic(fmt.Sprintf("genome: id %d not in arena", id))
	}
	return g
}

// Clone copies a genome. With preserveIdentity the existing id is reused
// (the genome is shared); otherwise a fresh id with copied genes is returned.
func (a *Arena) Clone(id ID, preserveIdentity bool) (*Genome, error) {
	src := a.genomes[id]
	if src == nil {
		return nil, fmt.Errorf("clone: genome %d not in arena", id)
	}
	if preserveIdentity {
		return src, nil
	}
	genes := make([]float64, len(src.Genes))
	copy(genes, src.Genes)
	return a.Spawn(genes)
}

// Sweep drops every genome whose id is not in live. Returns the number removed.
func (a *Arena) Sweep(live map[ID]struct{}) int {
	removed := 0
	for id := range a.genomes {
		if _, ok := live[id]; !ok {
			delete(a.genomes, id)
			removed++
		}
	}
	return removed
}

// IDs returns all live ids in ascending order.
func (a *Arena) IDs() []ID {
	ids := make([]ID, 0, len(a.genomes))
	for id := range a.genomes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
