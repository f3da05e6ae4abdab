// Command lumengc-sim drives a lumengc Heap with a pool of simulated
// mutators so the collector's control thread, heuristics, and engines
// can be observed end-to-end without a real VM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumenvm/lumengc/internal/gc/diag"
	"github.com/lumenvm/lumengc/internal/gc/gcconfig"
	"github.com/lumenvm/lumengc/internal/gc/heap"
	"github.com/lumenvm/lumengc/internal/gc/mutatorsim"
	"github.com/lumenvm/lumengc/internal/gc/refproc"
	"github.com/lumenvm/lumengc/internal/runtime/vfs"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a gcconfig key=value file (optional; defaults are used if empty)")
		mutators   = flag.Int("mutators", 4, "number of simulated mutator goroutines")
		duration   = flag.Duration("duration", 10*time.Second, "how long to run the simulation")
		diagAddr   = flag.String("diag-addr", "", "if set, serve /gc/status over HTTP/3 at this address (e.g. :0)")
		verbose    = flag.Bool("verbose", false, "log per-phase lines in addition to per-cycle summaries")
	)
	flag.Parse()

	flags := gcconfig.Defaults()
	if *configPath != "" {
		loaded, err := gcconfig.Load(vfs.NewOS(), *configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lumengc-sim: loading config: %v\n", err)
			os.Exit(1)
		}
		flags = loaded
	}

	h := heap.New(heap.Config{
		RegionCount:                  flags.RegionCount,
		RegionSize:                   uintptr(flags.RegionSize),
		GenerationalMode:             flags.GenerationalMode,
		EvacReservePercent:           flags.EvacReservePercent,
		OldEvacRatioPercent:          flags.OldEvacRatioPercent,
		OldCompactionReserve:         flags.OldCompactionReserve,
		EvacWaste:                    flags.EvacWaste,
		PromoEvacWaste:               flags.PromoEvacWaste,
		SoftPolicy:                   refproc.ClearAllSoft,
		HeuristicTriggerPercent:      flags.HeuristicTriggerPercent,
		GuaranteedInterval:           flags.GuaranteedGCInterval,
		ControlIntervalMin:           flags.ControlIntervalMin,
		ControlIntervalMax:           flags.ControlIntervalMax,
		ControlIntervalAdjust:        flags.ControlIntervalAdjustPeriod,
		DegenerationUpgradeThreshold: flags.DegenerationUpgradeThreshold,
		PromotionAgeCutoff:           flags.PromotionAgeCutoff,
		WorkerCount:                  flags.WorkerCount,
	}, os.Stdout)

	h.SetVerbose(*verbose)
	h.Start()
	defer h.Stop()

	var diagListener *diag.Listener
	if *diagAddr != "" {
		l, bound, err := diag.Start(*diagAddr, h)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lumengc-sim: starting diagnostics listener: %v\n", err)
			os.Exit(1)
		}
		diagListener = l
		fmt.Fprintf(os.Stdout, "lumengc-sim: diagnostics listening at https://%s/gc/status\n", bound)
		defer diagListener.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	harness := mutatorsim.NewHarness(h, *mutators, mutatorsim.Config{
		AllocSize:      4096,
		AllocPause:     time.Millisecond,
		ExplicitGCRate: 2000,
		LiveFraction:   0.35,
	})
	harness.Run(ctx)

	fmt.Fprintf(os.Stdout, "lumengc-sim: %d mutators made %d allocations\n%s\n",
		*mutators, harness.TotalAllocs(), h.FreeSet().LogStatusUnderLock())
}
