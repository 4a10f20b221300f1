package systems

import (
	"runtime"
	"sync"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/racer/components"
)

// parallelThreshold is the minimum active vehicle count to split ticks
// across workers. Below this, single-threaded is faster.
const parallelThreshold = 64

// vehicleRefs holds component pointers for one vehicle during a tick.
type vehicleRefs struct {
	chassis  *components.Chassis
	radar    *components.Radar
	pilot    *components.Pilot
	progress *components.Progress
}

// DriveSystem runs Drive over every vehicle entity in a world.
type DriveSystem struct {
	Drive   Drive
	filter  *ecs.Filter4[components.Chassis, components.Radar, components.Pilot, components.Progress]
	workers int
	refs    []vehicleRefs
}

// NewDriveSystem creates a drive system over world. workers <= 0 uses GOMAXPROCS.
func NewDriveSystem(world *ecs.World, drive Drive, workers int) *DriveSystem {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &DriveSystem{
		Drive:   drive,
		filter:  ecs.NewFilter4[components.Chassis, components.Radar, components.Pilot, components.Progress](world),
		workers: workers,
	}
}

// Update advances every vehicle by one tick and returns how many are still active.
func (s *DriveSystem) Update() int {
	s.Tick()
	return s.Active()
}

// Tick advances every non-crashed vehicle by one tick.
// Vehicles only touch their own components, so the split is deterministic.
func (s *DriveSystem) Tick() {
	s.refs = s.refs[:0]
	query := s.filter.Query()
	for query.Next() {
		ch, r, p, pr := query.Get()
		if pr.Status == components.StatusCrashed {
			continue
		}
		s.refs = append(s.refs, vehicleRefs{chassis: ch, radar: r, pilot: p, progress: pr})
	}

	n := len(s.refs)
	if n < parallelThreshold || s.workers == 1 {
		s.tickRange(0, n)
	} else {
		chunk := (n + s.workers - 1) / s.workers
		var wg sync.WaitGroup
		for start := 0; start < n; start += chunk {
			end := min(start+chunk, n)
			wg.Add(1)
			go func(start, end int) {
				defer wg.Done()
				s.tickRange(start, end)
			}(start, end)
		}
		wg.Wait()
	}
}

// Active counts the vehicles ticked by the last Tick that are still racing.
func (s *DriveSystem) Active() int {
	active := 0
	for _, v := range s.refs {
		if v.progress.Status == components.StatusActive {
			active++
		}
	}
	return active
}

func (s *DriveSystem) tickRange(start, end int) {
	for _, v := range s.refs[start:end] {
		s.Drive.Tick(v.chassis, v.radar, v.pilot, v.progress)
	}
}
