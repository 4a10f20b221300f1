package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/pthm-cable/racer/evolution"
)

// errNotInitialized is returned by stores used before Init.
var errNotInitialized = errors.New("store is not initialized")

type storedGeneration struct {
	epoch   int
	payload []byte
}

// MemoryStore keeps encoded payloads in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	seq         int64
	generations map[string][]storedGeneration // Sorted by epoch
	hallOfFame  map[string][]byte
	lastWrite   map[string]int64
}

// NewMemoryStore creates an uninitialized memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Init resets the store.
func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.generations = make(map[string][]storedGeneration)
	s.hallOfFame = make(map[string][]byte)
	s.lastWrite = make(map[string]int64)
	return nil
}

// SaveGeneration stores gen, replacing any generation with the same epoch.
func (s *MemoryStore) SaveGeneration(_ context.Context, evolutionID string, gen evolution.GenerationSnapshot) error {
	payload, err := EncodeGeneration(gen)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	gens := s.generations[evolutionID]
	i := sort.Search(len(gens), func(i int) bool { return gens[i].epoch >= gen.Epoch })
	if i < len(gens) && gens[i].epoch == gen.Epoch {
		gens[i].payload = payload
	} else {
		gens = append(gens, storedGeneration{})
		copy(gens[i+1:], gens[i:])
		gens[i] = storedGeneration{epoch: gen.Epoch, payload: payload}
	}
	s.generations[evolutionID] = gens
	s.touch(evolutionID)
	return nil
}

// LoadLatestGeneration returns the highest-epoch generation.
func (s *MemoryStore) LoadLatestGeneration(_ context.Context, evolutionID string) (evolution.GenerationSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return evolution.GenerationSnapshot{}, false, errNotInitialized
	}

	gens := s.generations[evolutionID]
	if len(gens) == 0 {
		return evolution.GenerationSnapshot{}, false, nil
	}
	gen, err := DecodeGeneration(gens[len(gens)-1].payload)
	if err != nil {
		return evolution.GenerationSnapshot{}, false, err
	}
	return gen, true, nil
}

// SaveHallOfFame replaces the stored archive.
func (s *MemoryStore) SaveHallOfFame(_ context.Context, evolutionID string, hof evolution.HallOfFameSnapshot) error {
	payload, err := EncodeHallOfFame(hof)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}
	s.hallOfFame[evolutionID] = payload
	return nil
}

// LoadHallOfFame returns the stored archive.
func (s *MemoryStore) LoadHallOfFame(_ context.Context, evolutionID string) (evolution.HallOfFameSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return evolution.HallOfFameSnapshot{}, false, errNotInitialized
	}

	payload, ok := s.hallOfFame[evolutionID]
	if !ok {
		return evolution.HallOfFameSnapshot{}, false, nil
	}
	hof, err := DecodeHallOfFame(payload)
	if err != nil {
		return evolution.HallOfFameSnapshot{}, false, err
	}
	return hof, true, nil
}

// TrimHistory drops all but the newest keep generations.
func (s *MemoryStore) TrimHistory(_ context.Context, evolutionID string, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return 0, errNotInitialized
	}

	gens := s.generations[evolutionID]
	if keep <= 0 || len(gens) <= keep {
		return 0, nil
	}
	drop := len(gens) - keep
	s.generations[evolutionID] = append([]storedGeneration(nil), gens[drop:]...)
	return drop, nil
}

// LatestEvolution returns the most recently written evolution id.
func (s *MemoryStore) LatestEvolution(_ context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return "", false, errNotInitialized
	}

	best, bestSeq := "", int64(-1)
	for id, seq := range s.lastWrite {
		if seq > bestSeq {
			best, bestSeq = id, seq
		}
	}
	return best, bestSeq >= 0, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) touch(evolutionID string) {
	s.seq++
	s.lastWrite[evolutionID] = s.seq
}
