package tuning

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/stream/decode"
	"worldstream.ai/internal/stream/pool"
	"worldstream.ai/internal/stream/tier"
)

//go:embed schema.json
var schemaJSON string

type Tuning struct {
	TickRateHz        int     `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	CellSize          float64 `yaml:"cell_size" json:"cell_size"`
	DistanceMetric    string  `yaml:"distance_metric" json:"distance_metric"`
	BudgetMs          float64 `yaml:"budget_ms" json:"budget_ms"`
	MaxQueue          int     `yaml:"max_queue" json:"max_queue"`
	MaxEnqueuePerTick int     `yaml:"max_enqueue_per_tick" json:"max_enqueue_per_tick"`
	DropLogEvery      int     `yaml:"drop_log_every" json:"drop_log_every"`

	Pool   PoolTuning   `yaml:"pool" json:"pool"`
	Decode DecodeTuning `yaml:"decode" json:"decode"`
	Tiers  TierTunings  `yaml:"tiers" json:"tiers"`

	// TerrainTiers lists the tiers whose cells keep a terrain region resident.
	TerrainTiers []string `yaml:"terrain_tiers" json:"terrain_tiers"`
}

type PoolTuning struct {
	MaxIdlePerKey  int `yaml:"max_idle_per_key" json:"max_idle_per_key"`
	ModelCacheSize int `yaml:"model_cache_size" json:"model_cache_size"`
}

type DecodeTuning struct {
	Workers      int `yaml:"workers" json:"workers"`
	Retries      int `yaml:"retries" json:"retries"`
	ResultBuffer int `yaml:"result_buffer" json:"result_buffer"`
}

type TierTuning struct {
	Radius    int `yaml:"radius" json:"radius"`
	CellCap   int `yaml:"cell_cap" json:"cell_cap"`
	BatchSize int `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	ProxyCap  int `yaml:"proxy_cap,omitempty" json:"proxy_cap,omitempty"`
}

type HorizonTuning struct {
	Backdrop string `yaml:"backdrop" json:"backdrop"`
}

type TierTunings struct {
	Near    TierTuning    `yaml:"near" json:"near"`
	Mid     TierTuning    `yaml:"mid" json:"mid"`
	Far     TierTuning    `yaml:"far" json:"far"`
	Horizon HorizonTuning `yaml:"horizon" json:"horizon"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:        30,
		CellSize:          64,
		DistanceMetric:    "chebyshev",
		BudgetMs:          4,
		MaxQueue:          4096,
		MaxEnqueuePerTick: 256,
		DropLogEvery:      100,
		Pool:              PoolTuning{MaxIdlePerKey: 32, ModelCacheSize: 512},
		Decode:            DecodeTuning{Workers: 4, Retries: 0, ResultBuffer: 256},
		Tiers: TierTunings{
			Near:    TierTuning{Radius: 3, CellCap: 50},
			Mid:     TierTuning{Radius: 8, CellCap: 150, BatchSize: 4},
			Far:     TierTuning{Radius: 16, CellCap: 1024, ProxyCap: 256},
			Horizon: HorizonTuning{Backdrop: "horizon.backdrop"},
		},
		TerrainTiers: []string{"NEAR", "MID"},
	}
}

// Load reads a tuning file over Defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	return Parse(raw)
}

// Parse decodes a YAML document over Defaults, checking it against the
// embedded schema first.
func Parse(raw []byte) (Tuning, error) {
	t := Defaults()
	if err := validateSchema(raw); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// schema compiles the embedded document once; Parse may run concurrently.
var schema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("tuning.schema.json", schemaJSON)
})

func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	// Round-trip through JSON so the validator sees JSON value types.
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	s, err := schema()
	if err != nil {
		return err
	}
	return s.Validate(v)
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	t.DistanceMetric = strings.ToLower(strings.TrimSpace(t.DistanceMetric))
	if t.DistanceMetric == "" {
		t.DistanceMetric = "chebyshev"
	}
	if t.DropLogEvery <= 0 {
		t.DropLogEvery = 100
	}
	if t.Decode.Workers <= 0 {
		t.Decode.Workers = 1
	}
	if t.Decode.ResultBuffer <= 0 {
		t.Decode.ResultBuffer = 256
	}
	if t.Tiers.Mid.BatchSize <= 0 {
		t.Tiers.Mid.BatchSize = 1
	}
	if strings.TrimSpace(t.Tiers.Horizon.Backdrop) == "" {
		t.Tiers.Horizon.Backdrop = "horizon.backdrop"
	}
	for i, s := range t.TerrainTiers {
		t.TerrainTiers[i] = strings.ToUpper(strings.TrimSpace(s))
	}
}

func (t Tuning) Validate() error {
	var errs []error
	if t.TickRateHz <= 0 {
		errs = append(errs, fmt.Errorf("tick_rate_hz must be > 0"))
	}
	if t.CellSize <= 0 {
		errs = append(errs, fmt.Errorf("cell_size must be > 0"))
	}
	if t.BudgetMs <= 0 {
		errs = append(errs, fmt.Errorf("budget_ms must be > 0"))
	}
	if t.MaxQueue < 0 {
		errs = append(errs, fmt.Errorf("max_queue must be >= 0"))
	}
	if _, err := cell.ParseMetric(t.DistanceMetric); err != nil {
		errs = append(errs, err)
	}
	for name, tt := range map[string]TierTuning{"near": t.Tiers.Near, "mid": t.Tiers.Mid, "far": t.Tiers.Far} {
		if tt.Radius < 0 {
			errs = append(errs, fmt.Errorf("tiers.%s.radius must be >= 0", name))
		}
	}
	if t.Pool.ModelCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("pool.model_cache_size must be > 0"))
	}
	if _, err := t.terrainTiers(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Metric returns the parsed distance metric, defaulting to Chebyshev.
func (t Tuning) Metric() cell.Metric {
	m, _ := cell.ParseMetric(t.DistanceMetric)
	return m
}

func (t Tuning) Budget() time.Duration {
	return time.Duration(t.BudgetMs * float64(time.Millisecond))
}

func (t Tuning) TickInterval() time.Duration {
	if t.TickRateHz <= 0 {
		return time.Second
	}
	return time.Second / time.Duration(t.TickRateHz)
}

func (t Tuning) TierConfig() tier.Config {
	return tier.Config{
		Metric:    t.Metric(),
		Near:      tier.Policy{Radius: t.Tiers.Near.Radius, CellCap: t.Tiers.Near.CellCap},
		Mid:       tier.Policy{Radius: t.Tiers.Mid.Radius, CellCap: t.Tiers.Mid.CellCap},
		Far:       tier.Policy{Radius: t.Tiers.Far.Radius, CellCap: t.Tiers.Far.CellCap},
		BatchSize: t.Tiers.Mid.BatchSize,
		ProxyCap:  t.Tiers.Far.ProxyCap,
	}
}

func (t Tuning) PoolConfig() pool.Config {
	return pool.Config{MaxIdlePerKey: t.Pool.MaxIdlePerKey}
}

func (t Tuning) DecodeConfig() decode.Config {
	return decode.Config{Workers: t.Decode.Workers, ResultBuffer: t.Decode.ResultBuffer}
}

// TerrainTierSet returns the tiers that keep terrain resident.
func (t Tuning) TerrainTierSet() map[cell.Tier]bool {
	set, _ := t.terrainTiers()
	return set
}

func (t Tuning) terrainTiers() (map[cell.Tier]bool, error) {
	set := map[cell.Tier]bool{}
	for _, s := range t.TerrainTiers {
		switch s {
		case "NEAR":
			set[cell.Near] = true
		case "MID":
			set[cell.Mid] = true
		case "FAR":
			set[cell.Far] = true
		default:
			return set, fmt.Errorf("terrain_tiers: unknown tier %q", s)
		}
	}
	return set, nil
}
