// Package gcconfig loads the collector's tunable flag table from a
// key=value file and can hot-reload it while the collector runs, the
// way a long-lived service picks up config changes without a restart.
package gcconfig

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	semver "github.com/Masterminds/semver/v3"

	"github.com/lumenvm/lumengc/internal/runtime/vfs"
)

// SchemaVersion is the config schema this build understands. A config
// file declares the version it was written for; Load rejects files
// outside SchemaConstraint rather than guessing at compatibility.
const SchemaVersion = "1.1.0"

// SchemaConstraint accepts any 1.x config file; a 2.x file is assumed
// to have renamed or repurposed a flag this build doesn't know about.
const SchemaConstraint = ">=1.0.0, <2.0.0"

// Flags mirrors the collector's configuration table, plus the
// region/worker shape a real JVM would take from command-line flags
// instead of this file.
type Flags struct {
	// Immutable at reload: changing these mid-run would invalidate
	// in-flight region/card math, so Reload rejects a file that tries.
	RegionSize       uint64
	RegionCount      int
	GenerationalMode bool
	CardSizeBytes    uint64

	GuaranteedGCInterval        time.Duration
	ControlIntervalMin          time.Duration
	ControlIntervalMax          time.Duration
	ControlIntervalAdjustPeriod time.Duration

	EvacReservePercent   uint64
	OldEvacRatioPercent  uint64
	OldCompactionReserve uint64
	EvacWaste            float64
	PromoEvacWaste       float64
	OldEvacWaste         float64

	MinOldGenGrowthPercent int
	AlwaysClearSoftRefs    bool

	Uncommit      bool
	DegeneratedGC bool

	Verify         bool
	VerifyBeforeGC bool
	VerifyAfterGC  bool

	EnableCardStats bool

	HeuristicTriggerPercent      int
	DegenerationUpgradeThreshold int
	PromotionAgeCutoff           uint32
	WorkerCount                  int
}

// Defaults returns the flag table's defaults, chosen to match the
// magnitudes a real run would use (percent-of-capacity reserves, small
// waste multipliers, millisecond-scale control loop timing).
func Defaults() Flags {
	return Flags{
		RegionSize:       1 << 20, // 1 MiB
		RegionCount:      512,
		GenerationalMode: true,
		CardSizeBytes:    512,

		GuaranteedGCInterval:        5 * time.Minute,
		ControlIntervalMin:          1 * time.Millisecond,
		ControlIntervalMax:          5 * time.Second,
		ControlIntervalAdjustPeriod: 1 * time.Second,

		EvacReservePercent:   25,
		OldEvacRatioPercent:  12,
		OldCompactionReserve: 4,
		EvacWaste:            1.2,
		PromoEvacWaste:       1.2,
		OldEvacWaste:         1.2,

		MinOldGenGrowthPercent: 12,
		AlwaysClearSoftRefs:    false,

		Uncommit:      true,
		DegeneratedGC: true,

		Verify:         false,
		VerifyBeforeGC: false,
		VerifyAfterGC:  false,

		EnableCardStats: false,

		HeuristicTriggerPercent:      75,
		DegenerationUpgradeThreshold: 3,
		PromotionAgeCutoff:           5,
		WorkerCount:                  4,
	}
}

// fieldSetters maps each flag table entry's on-disk key to a setter. Using
// a table instead of a struct tag reflector keeps the parser a few
// lines long and makes unknown keys an explicit error rather than a
// silently ignored typo.
func (f *Flags) fieldSetters() map[string]func(string) error {
	return map[string]func(string) error{
		"ShenandoahGuaranteedGCInterval":     durationSetter(&f.GuaranteedGCInterval),
		"ShenandoahControlIntervalMin":       durationSetter(&f.ControlIntervalMin),
		"ShenandoahControlIntervalMax":       durationSetter(&f.ControlIntervalMax),
		"ShenandoahControlIntervalAdjustPeriod": durationSetter(&f.ControlIntervalAdjustPeriod),
		"ShenandoahEvacReserve":              uint64Setter(&f.EvacReservePercent),
		"ShenandoahOldEvacRatioPercent":      uint64Setter(&f.OldEvacRatioPercent),
		"ShenandoahOldCompactionReserve":     uint64Setter(&f.OldCompactionReserve),
		"ShenandoahEvacWaste":                float64Setter(&f.EvacWaste),
		"ShenandoahPromoEvacWaste":           float64Setter(&f.PromoEvacWaste),
		"ShenandoahOldEvacWaste":             float64Setter(&f.OldEvacWaste),
		"ShenandoahMinOldGenGrowthPercent":   intSetter(&f.MinOldGenGrowthPercent),
		"ShenandoahAlwaysClearSoftRefs":      boolSetter(&f.AlwaysClearSoftRefs),
		"ShenandoahUncommit":                 boolSetter(&f.Uncommit),
		"ShenandoahDegeneratedGC":            boolSetter(&f.DegeneratedGC),
		"ShenandoahVerify":                   boolSetter(&f.Verify),
		"VerifyBeforeGC":                     boolSetter(&f.VerifyBeforeGC),
		"VerifyAfterGC":                      boolSetter(&f.VerifyAfterGC),
		"ShenandoahEnableCardStats":          boolSetter(&f.EnableCardStats),
		"HeuristicTriggerPercent":            intSetter(&f.HeuristicTriggerPercent),
		"DegenerationUpgradeThreshold":       intSetter(&f.DegenerationUpgradeThreshold),
		"PromotionAgeCutoff":                 uint32Setter(&f.PromotionAgeCutoff),
		"WorkerCount":                        intSetter(&f.WorkerCount),
		// Immutable fields are parsed but checked against the running
		// value by Reload rather than applied blindly.
		"RegionSize":       uint64Setter(&f.RegionSize),
		"RegionCount":      intSetter(&f.RegionCount),
		"GenerationalMode": boolSetter(&f.GenerationalMode),
		"CardSizeBytes":    uint64Setter(&f.CardSizeBytes),
	}
}

func durationSetter(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func uint64Setter(dst *uint64) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func uint32Setter(dst *uint32) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return err
		}
		*dst = uint32(n)
		return nil
	}
}

func intSetter(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func float64Setter(dst *float64) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func boolSetter(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

// parse reads "key = value" lines (# comments, blank lines ignored)
// plus a "schema = <semver>" line, accepted on any line of the file,
// returning the parsed schema version string alongside the populated
// flags.
func parse(r io.Reader, base Flags) (Flags, string, error) {
	f := base
	setters := f.fieldSetters()
	schema := ""

	scan := bufio.NewScanner(r)
	lineNo := 0
	for scan.Scan() {
		lineNo++
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return Flags{}, "", fmt.Errorf("gcconfig: line %d: missing '='", lineNo)
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "schema" {
			schema = val
			continue
		}
		setter, ok := setters[key]
		if !ok {
			return Flags{}, "", fmt.Errorf("gcconfig: line %d: unknown key %q", lineNo, key)
		}
		if err := setter(val); err != nil {
			return Flags{}, "", fmt.Errorf("gcconfig: line %d: key %q: %w", lineNo, key, err)
		}
	}
	if err := scan.Err(); err != nil {
		return Flags{}, "", err
	}
	if schema == "" {
		return Flags{}, "", fmt.Errorf("gcconfig: missing required \"schema = <version>\" line")
	}
	return f, schema, nil
}

func checkSchema(schema string) error {
	v, err := semver.NewVersion(schema)
	if err != nil {
		return fmt.Errorf("gcconfig: invalid schema version %q: %w", schema, err)
	}
	c, err := semver.NewConstraint(SchemaConstraint)
	if err != nil {
		return err // constraint string is a build-time constant, never fails in practice
	}
	if !c.Check(v) {
		return fmt.Errorf("gcconfig: config schema %s does not satisfy %s (this build understands %s)", schema, SchemaConstraint, SchemaVersion)
	}
	return nil
}

// Load reads and validates a config file from fs at path, starting from
// Defaults() for any key the file omits.
func Load(fsys vfs.FileSystem, path string) (Flags, error) {
	file, err := fsys.Open(path)
	if err != nil {
		return Flags{}, err
	}
	defer file.Close()

	f, schema, err := parse(file, Defaults())
	if err != nil {
		return Flags{}, err
	}
	if err := checkSchema(schema); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// Store is a thread-safe, hot-reloadable Flags holder. A control thread
// reads the current snapshot via Current(); NotifyFunc is called after
// every successful Reload so the caller can reset the control loop's
// exponential back-off.
type Store struct {
	mu      sync.RWMutex
	current Flags
	fs      vfs.FileSystem
	path    string

	NotifyFunc func()
}

// NewStore loads path once and wraps the result in a Store ready for
// hot-reload via Watch.
func NewStore(fsys vfs.FileSystem, path string) (*Store, error) {
	f, err := Load(fsys, path)
	if err != nil {
		return nil, err
	}
	return &Store{current: f, fs: fsys, path: path}, nil
}

func (s *Store) Current() Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Reload re-reads the config file and swaps it in, unless the new file
// tries to change an immutable field (region size, card size, region
// count, generational mode), in which case the running config is left
// untouched and the mismatch is returned as an error rather than
// silently applied.
func (s *Store) Reload() error {
	next, err := Load(s.fs, s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := immutableFieldsUnchanged(s.current, next); err != nil {
		return err
	}
	s.current = next
	if s.NotifyFunc != nil {
		s.NotifyFunc()
	}
	return nil
}

func immutableFieldsUnchanged(old, next Flags) error {
	switch {
	case old.RegionSize != next.RegionSize:
		return fmt.Errorf("gcconfig: RegionSize cannot change at reload (running %d, file %d)", old.RegionSize, next.RegionSize)
	case old.RegionCount != next.RegionCount:
		return fmt.Errorf("gcconfig: RegionCount cannot change at reload (running %d, file %d)", old.RegionCount, next.RegionCount)
	case old.GenerationalMode != next.GenerationalMode:
		return fmt.Errorf("gcconfig: GenerationalMode cannot change at reload")
	case old.CardSizeBytes != next.CardSizeBytes:
		return fmt.Errorf("gcconfig: CardSizeBytes is fixed at compile time; cannot change at reload")
	}
	return nil
}

// Watch starts a goroutine that calls Reload whenever w reports a
// write to the watched path, logging reload errors to errs (a buffered
// channel the caller drains; a full channel drops the error rather than
// blocking the watch loop). Watch returns immediately; stop the
// goroutine by closing w.
func (s *Store) Watch(w vfs.Watcher, errs chan<- error) {
	if err := w.Add(s.path); err != nil {
		select {
		case errs <- err:
		default:
		}
		return
	}
	go func() {
		for {
			select {
			case ev, ok := <-w.Events():
				if !ok {
					return
				}
				if ev.Op&(vfs.OpWrite|vfs.OpCreate) == 0 {
					continue
				}
				if err := s.Reload(); err != nil {
					select {
					case errs <- err:
					default:
					}
				}
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				select {
				case errs <- err:
				default:
				}
			}
		}
	}()
}
