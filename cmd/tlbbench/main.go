// Command tlbbench drives the dg-tlb engine under concurrent map/unmap
// contention, reporting operation counters and (optionally) a CPU
// profile summary. Its shape is grounded on
// tinyrange-cc/internal/cmd/benchmark's flag-parsing-plus-progressbar
// harness, adapted from VM-boot benchmarking to TLB stress-testing.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime/pprof"
	"unsafe"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/tommy2tonez/dg-tlb/internal/pagealloc"
	"github.com/tommy2tonez/dg-tlb/tlb"
)

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML run configuration file")
	flag.Parse()

	cfg, err := loadRunConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	translator, err := pagealloc.Alloc(uintptr(cfg.VirtualPages)*tlb.PageSize, tlb.PageSize)
	if err != nil {
		return fmt.Errorf("allocate translator region: %w", err)
	}
	defer translator.Close()

	translatee, err := pagealloc.Alloc(uintptr(cfg.PhysicalPages)*tlb.PageSize, tlb.PageSize)
	if err != nil {
		return fmt.Errorf("allocate translatee region: %w", err)
	}
	defer translatee.Close()

	t := tlb.Init(tlb.Config{
		TranslatorBase: tlb.VAddr(addrOf(translator.Bytes())),
		TranslatorSize: uintptr(len(translator.Bytes())),
		TranslateeBase: tlb.PAddr(addrOf(translatee.Bytes())),
		TranslateeSize: uintptr(len(translatee.Bytes())),
		VToPTransfer:   func(dst, src []byte) { copy(dst, src) },
		PToVTransfer:   func(dst, src []byte) { copy(dst, src) },
	})

	if cfg.CPUProfilePath != "" {
		f, err := os.Create(cfg.CPUProfilePath)
		if err != nil {
			return fmt.Errorf("create cpu profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("start cpu profile: %w", err)
		}
	}

	total := int64(cfg.Workers) * int64(cfg.IterPerWorker)
	bar := progressbar.Default(total)
	defer bar.Close()

	base := tlb.VAddr(addrOf(translator.Bytes()))

	var g errgroup.Group
	for w := 0; w < cfg.Workers; w++ {
		w := w
		g.Go(func() error {
			rng := rand.New(rand.NewSource(int64(w) + 1))
			for i := 0; i < cfg.IterPerWorker; i++ {
				p := base + tlb.VAddr(rng.Intn(cfg.VirtualPages))*tlb.PageSize
				q, err := t.Map(p)
				if err == nil {
					t.Unmap(q)
				}
				bar.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Println(t.Stats())

	if cfg.CPUProfilePath != "" {
		pprof.StopCPUProfile()
		if err := printTopSamples(os.Stdout, cfg.CPUProfilePath, 10); err != nil {
			return fmt.Errorf("report profile: %w", err)
		}
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tlbbench: %v\n", err)
		os.Exit(1)
	}
}
