package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/archivist/internal/breaker"
	"github.com/pdiddy/archivist/internal/budget"
	"github.com/pdiddy/archivist/internal/clock"
	archconfig "github.com/pdiddy/archivist/internal/config"
	"github.com/pdiddy/archivist/internal/deferred"
	"github.com/pdiddy/archivist/internal/httpexec"
	"github.com/pdiddy/archivist/internal/inputcsv"
	"github.com/pdiddy/archivist/internal/journal"
	"github.com/pdiddy/archivist/internal/pipeline"
	"github.com/pdiddy/archivist/internal/provider"
	"github.com/pdiddy/archivist/internal/quota"
	"github.com/pdiddy/archivist/internal/scheduler"
	"github.com/pdiddy/archivist/internal/selector"
	"github.com/pdiddy/archivist/internal/summary"
	"github.com/pdiddy/archivist/pkg/types"
)

var (
	flagOutputDir       string
	flagDryRun          bool
	flagLogLevel        string
	flagForceInteractive bool
	flagForceCLI        bool
)

var runCmd = &cobra.Command{
	Use:   "run [input.csv]",
	Short: "Search providers, select best candidates, and download artifacts for every input record",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&flagOutputDir, "output", "", "output directory (overrides general.output_dir)")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "select candidates and write work.json without downloading")
	runCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "progress verbosity (external: no structured logging is implemented, this only gates Fprintf lines)")
	runCmd.Flags().BoolVar(&flagForceInteractive, "force-interactive", false, "force the interactive terminal UI (external collaborator, not implemented here)")
	runCmd.Flags().BoolVar(&flagForceCLI, "force-cli", false, "force plain CLI progress output")
}

func runRun(cmd *cobra.Command, args []string) error {
	inputPath := args[0]

	cfg, err := archconfig.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	if flagOutputDir != "" {
		cfg.General.OutputDir = flagOutputDir
	}
	if flagDryRun {
		cfg.General.DryRun = true
	}

	if err := pipeline.EnsureOutputDir(cfg.General.OutputDir); err != nil {
		fmt.Fprintf(os.Stderr, "output directory error: %v\n", err)
		os.Exit(2)
	}

	records, header, err := inputcsv.Read(inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "input error: %v\n", err)
		os.Exit(3)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	cancelledByUser := false
	go func() {
		<-sigCh
		cancelledByUser = true
		cancel()
	}()
	defer signal.Stop(sigCh)

	c := clock.Real{}
	acct := budget.New(archconfig.BudgetLimits(cfg), cfg.DownloadLimits.OnExceed)

	stateFilePath := filepath.Join(cfg.General.OutputDir, "..", cfg.General.StateFile)
	if cfg.General.StateFile != "" {
		stateFilePath = cfg.General.StateFile
	}
	quotaStates, deferredItems, err := quota.Load(stateFilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "state file error: %v\n", err)
		os.Exit(2)
	}

	ledger := quota.New(c)
	ledger.Restore(quotaStates)
	for providerKey := range cfg.Providers {
		ledger.Register(providerKey, cfg.QuotaConfigFor(providerKey))
	}

	deferredQueue := deferred.New(c)
	deferredQueue.Restore(deferredItems)

	breakers := breaker.NewRegistry(c, cfg.NetworkConfigFor)
	limiters := httpexec.NewLimiters(c, cfg.NetworkConfigFor)
	exec := httpexec.New(c, limiters, breakers, cfg.NetworkConfigFor, acct)

	registry := provider.NewRegistry()
	registry.Register(provider.NewInternetArchiveAdapter(exec))
	registry.Register(provider.NewEuropeanaAdapter(exec, loadedSecrets["europeana-api-key"]))

	indexPath := cfg.General.IndexCSV
	if indexPath == "" {
		indexPath = "index.csv"
	}
	index := journal.NewIndex(indexPath)

	sched := scheduler.New(c, registry, ledger, deferredQueue, acct, breakers, cfg, index, os.Stderr)
	sel := selector.New(registry, cfg.Selection)
	driver := pipeline.New(sel, registry, sched, acct, index, c, cfg, os.Stderr)

	// pendingByWorkID tracks records whose download is still in flight on the
	// scheduler; RewriteCSVRecord only reads *types.Work once OnTerminal fires
	// for it, since the scheduler mutates the Work concurrently and the
	// submitting loop below would otherwise race that mutation (see §6).
	var pendingMu sync.Mutex
	pendingByWorkID := make(map[string]*types.InputRecord)
	sched.OnTerminal(func(w *types.Work) {
		pendingMu.Lock()
		rec, ok := pendingByWorkID[w.WorkID]
		if ok {
			delete(pendingByWorkID, w.WorkID)
		}
		pendingMu.Unlock()
		if ok {
			pipeline.RewriteCSVRecord(rec, w)
		}
	})

	schedCtx, schedCancel := context.WithCancel(ctx)
	defer schedCancel()
	schedDone := make(chan struct{})
	go func() {
		sched.Run(schedCtx)
		close(schedDone)
	}()

	deferredTicker := time.NewTicker(types.DefaultDeferredQueueTickInterval)
	defer deferredTicker.Stop()
	go func() {
		for {
			select {
			case <-schedCtx.Done():
				return
			case <-deferredTicker.C:
				for _, item := range deferredQueue.Ready(0) {
					if pipeline.Replay(indexPath, item, sched, cfg.Download.WorkerTimeoutS, c.Now()) {
						deferredQueue.Remove(item.ID)
					}
				}
			}
		}
	}()

	enabledProviders := registry.Enabled(cfg.Providers)

	for i := range records {
		if ctx.Err() != nil {
			break
		}
		if acct.Stopped() {
			break
		}
		w, err := driver.ProcessRecord(ctx, records[i], enabledProviders)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error processing %s: %v\n", records[i].EntryID, err)
			continue
		}
		if w == nil {
			continue
		}
		if w.Status == types.StatusPending {
			// Download submitted to the scheduler; OnTerminal rewrites this
			// record once the work actually finishes.
			pendingMu.Lock()
			pendingByWorkID[w.WorkID] = &records[i]
			pendingMu.Unlock()
			continue
		}
		pipeline.RewriteCSVRecord(&records[i], w)
	}

	sched.Close()
	schedCancel()
	<-schedDone

	_ = inputcsv.Write(inputPath, header, records)
	_ = quota.Save(stateFilePath, ledger.Snapshot(), deferredQueue.Snapshot())

	summary.Print(os.Stderr, sched.Stats(), acct)

	switch {
	case cancelledByUser:
		os.Exit(130)
	case acct.Stopped():
		os.Exit(4)
	}
	return nil
}
