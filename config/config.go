// Package config provides configuration loading and access for training runs.
package config

import (
	_ "embed"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all training configuration parameters.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Vehicle    VehicleConfig    `yaml:"vehicle"`
	Sensors    SensorsConfig    `yaml:"sensors"`
	Neural     NeuralConfig     `yaml:"neural"`
	Evolution  EvolutionConfig  `yaml:"evolution"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	HallOfFame HallOfFameConfig `yaml:"hall_of_fame"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Storage    StorageConfig    `yaml:"storage"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// SimulationConfig holds the fixed-timestep loop settings.
type SimulationConfig struct {
	DT           float64 `yaml:"dt"`             // Seconds per tick
	MaxTicks     int     `yaml:"max_ticks"`      // Tick budget per generation
	GridCellSize float64 `yaml:"grid_cell_size"` // Track collision grid cell size (world units)
}

// VehicleConfig holds the bicycle-model physical constants.
type VehicleConfig struct {
	Mass              float64 `yaml:"mass"`               // kg
	Inertia           float64 `yaml:"inertia"`            // Yaw moment of inertia, kg·m²
	CGToFront         float64 `yaml:"cg_to_front"`        // Distance from CG to front axle, m
	CGToRear          float64 `yaml:"cg_to_rear"`         // Distance from CG to rear axle, m
	Width             float64 `yaml:"width"`              // Body width for collision, m
	Length            float64 `yaml:"length"`             // Body length for collision, m
	MaxSteer          float64 `yaml:"max_steer"`          // Max road-wheel angle, degrees
	SteerRate         float64 `yaml:"steer_rate"`         // Max steering change, degrees per second
	EnginePower       float64 `yaml:"engine_power"`       // W
	MaxDriveForce     float64 `yaml:"max_drive_force"`    // N
	BrakeForce        float64 `yaml:"brake_force"`        // N at full brake
	RollingResistance float64 `yaml:"rolling_resistance"` // N per m/s
	AeroDrag          float64 `yaml:"aero_drag"`          // N per (m/s)²
	CorneringFront    float64 `yaml:"cornering_front"`    // N per rad
	CorneringRear     float64 `yaml:"cornering_rear"`     // N per rad
	Mu                float64 `yaml:"mu"`                 // Tire friction coefficient
	SteerSpeedMin     float64 `yaml:"steer_speed_min"`    // Below this forward speed steering has no effect, m/s
	SteerSpeedMax     float64 `yaml:"steer_speed_max"`    // Above this forward speed steering is fully effective, m/s
	LowSpeedDamping   float64 `yaml:"low_speed_damping"`  // Extra lateral/yaw damping per second below 1 m/s
	TopSpeed          float64 `yaml:"top_speed"`          // Normalization reference for speed inputs and scoring, m/s
}

// SensorsConfig holds radar and staleness parameters.
type SensorsConfig struct {
	RadarAngles []float64 `yaml:"radar_angles"` // Beam angles relative to heading, degrees
	RadarRange  float64   `yaml:"radar_range"`  // Max beam length, world units
	StaleSpeed  float64   `yaml:"stale_speed"`  // Speeds below this count as stale, m/s
	StaleTicks  int       `yaml:"stale_ticks"`  // Consecutive stale ticks before a forced crash (0 = disabled)
}

// NeuralConfig holds network topology parameters.
type NeuralConfig struct {
	HiddenLayers []int    `yaml:"hidden_layers"` // Sizes of hidden layers, e.g. [12, 8]
	Activations  []string `yaml:"activations"`   // One per transition: leaky_relu, relu, tanh
	NumOutputs   int      `yaml:"num_outputs"`
	InitScale    float64  `yaml:"init_scale"` // Initial genes uniform in [-scale, scale]
}

// EvolutionConfig holds the generational GA hyperparameters.
type EvolutionConfig struct {
	PopulationSize       int             `yaml:"population_size"`
	EliteRatio           float64         `yaml:"elite_ratio"`
	HallOfFameEliteRatio float64         `yaml:"hall_of_fame_elite_ratio"`
	EliminationEpochs    int             `yaml:"elimination_epochs"` // Diversity injection every N epochs (0 = never)
	EliminationRate      float64         `yaml:"elimination_rate"`
	Crossover            CrossoverConfig `yaml:"crossover"`
	Mutation             MutationConfig  `yaml:"mutation"`
	Modes                ModesConfig     `yaml:"modes"`
}

// CrossoverConfig holds parent selection and recombination parameters.
type CrossoverConfig struct {
	SelectionTournamentSize        int     `yaml:"selection_tournament_size"`
	BlendRatio                     float64 `yaml:"blend_ratio"`
	HallOfFameSelectionProbability float64 `yaml:"hall_of_fame_selection_probability"`
}

// MutationConfig holds per-gene mutation parameters for the two gene ranges.
type MutationConfig struct {
	HiddenRate  float64 `yaml:"hidden_rate"`
	HiddenSigma float64 `yaml:"hidden_sigma"`
	OutputRate  float64 `yaml:"output_rate"`
	OutputSigma float64 `yaml:"output_sigma"`
	Clamp       float64 `yaml:"clamp"` // 0 = no clamp
}

// ModesConfig holds the mutation scaling applied by each hyperparameter mode.
type ModesConfig struct {
	Exploration ModeConfig `yaml:"exploration"`
	FineTuning  ModeConfig `yaml:"fine_tuning"`
}

// ModeConfig scales the base mutation parameters.
type ModeConfig struct {
	RateScale  float64 `yaml:"rate_scale"`
	SigmaScale float64 `yaml:"sigma_scale"`
}

// ScoringConfig holds fitness weights.
type ScoringConfig struct {
	TrackDistance        float64 `yaml:"track_distance"`
	AvgSpeedAtFinishLine float64 `yaml:"avg_speed_at_finish_line"`
	AvgSpeed             float64 `yaml:"avg_speed"`
	SpeedingPenalty      float64 `yaml:"speeding_penalty"`
	SpeedingLimitValue   float64 `yaml:"speeding_limit_value"` // Avg speed ratio above which the penalty applies
}

// HallOfFameConfig holds cross-track archive settings.
type HallOfFameConfig struct {
	PerTrackSize       int     `yaml:"per_track_size"`
	MinFitnessDistance float64 `yaml:"min_fitness_distance"`
	FinishThreshold    float64 `yaml:"finish_threshold"`
	MinGeneralists     int     `yaml:"min_generalists"` // Forced generalists in samples of 2+
}

// ScheduleConfig holds epoch-runner strategy and stagnation settings.
type ScheduleConfig struct {
	Strategy           string  `yaml:"strategy"`            // rotating, composite
	PassRate           float64 `yaml:"pass_rate"`           // Completion rate that advances the rotating track
	ReplayInterval     int     `yaml:"replay_interval"`     // Replay a completed track every N generations (0 = never)
	ValidationInterval int     `yaml:"validation_interval"` // Hall-of-fame validation round every N generations (0 = never)
	WorstFraction      float64 `yaml:"worst_fraction"`      // Composite: fraction of worst tracks averaged
	WorstBlend         float64 `yaml:"worst_blend"`         // Composite: weight of the worst-k mean vs overall mean
	IncompletePenalty  float64 `yaml:"incomplete_penalty"`  // Composite: penalty per unfinished track fraction
	StagnationWindow   int     `yaml:"stagnation_window"`
	StagnationEpsilon  float64 `yaml:"stagnation_epsilon"`
	FineTuneCompletion float64 `yaml:"fine_tune_completion"` // Completion rate that enables fine-tuning mode
	Concurrency        int     `yaml:"concurrency"`          // Composite: max tracks raced at once (0 = GOMAXPROCS)
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	Backend     string `yaml:"backend"` // memory, sqlite
	Path        string `yaml:"path"`
	KeepHistory int    `yaml:"keep_history"` // Generations retained per evolution (0 = all)
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	PerfWindow int  `yaml:"perf_window"` // Ticks averaged by the perf collector
	Plot       bool `yaml:"plot"`        // Write history.png on close
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	NumInputs    int       // Radar beams + speed, prev steer, prev throttle, yaw rate, slip ratio
	LayerSizes   []int     // Inputs, hidden layers, outputs
	RadarAngles  []float64 // Radians
	MaxSteerRad  float64
	SteerRateRad float64
}

// NumSelfInputs is the number of non-radar network inputs.
const NumSelfInputs = 5

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Default returns a fresh copy of the embedded defaults.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.ComputeDerived()

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Simulation.DT <= 0 {
		return fmt.Errorf("simulation.dt must be positive, got %v", c.Simulation.DT)
	}
	if c.Simulation.GridCellSize <= 0 {
		return fmt.Errorf("simulation.grid_cell_size must be positive, got %v", c.Simulation.GridCellSize)
	}
	if len(c.Sensors.RadarAngles) == 0 {
		return fmt.Errorf("sensors.radar_angles must not be empty")
	}
	if c.Neural.NumOutputs < 2 {
		return fmt.Errorf("neural.num_outputs must be at least 2 (steer, throttle), got %d", c.Neural.NumOutputs)
	}
	if want := len(c.Neural.HiddenLayers) + 1; len(c.Neural.Activations) != want {
		return fmt.Errorf("neural.activations needs %d entries, got %d", want, len(c.Neural.Activations))
	}
	if c.Evolution.PopulationSize < 2 {
		return fmt.Errorf("evolution.population_size must be at least 2, got %d", c.Evolution.PopulationSize)
	}
	return nil
}

// ComputeDerived calculates values derived from loaded config.
// Call again after mutating fields that feed derived values.
func (c *Config) ComputeDerived() {
	c.Derived.NumInputs = len(c.Sensors.RadarAngles) + NumSelfInputs

	sizes := make([]int, 0, len(c.Neural.HiddenLayers)+2)
	sizes = append(sizes, c.Derived.NumInputs)
	sizes = append(sizes, c.Neural.HiddenLayers...)
	sizes = append(sizes, c.Neural.NumOutputs)
	c.Derived.LayerSizes = sizes

	c.Derived.RadarAngles = make([]float64, len(c.Sensors.RadarAngles))
	for i, deg := range c.Sensors.RadarAngles {
		c.Derived.RadarAngles[i] = deg * math.Pi / 180
	}
	c.Derived.MaxSteerRad = c.Vehicle.MaxSteer * math.Pi / 180
	c.Derived.SteerRateRad = c.Vehicle.SteerRate * math.Pi / 180
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
