package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	archconfig "github.com/pdiddy/archivist/internal/config"
	"github.com/pdiddy/archivist/internal/clock"
	"github.com/pdiddy/archivist/internal/deferred"
	"github.com/pdiddy/archivist/internal/quota"
)

var quotaStatusCmd = &cobra.Command{
	Use:   "quota-status",
	Short: "Print the quota ledger and deferred queue, then exit",
	RunE:  runQuotaStatus,
}

var cleanupDeferredCmd = &cobra.Command{
	Use:   "cleanup-deferred",
	Short: "Compact the deferred queue, removing terminal items older than 7 days",
	RunE:  runCleanupDeferred,
}

func stateFileFromConfig() (string, error) {
	cfg, err := archconfig.Load(cfgFile)
	if err != nil {
		return "", err
	}
	if cfg.General.StateFile != "" {
		return cfg.General.StateFile, nil
	}
	return ".downloader_state.json", nil
}

// runQuotaStatus implements the quota-status CLI surface: prints every
// tracked provider's quota state and the deferred queue's contents, then
// exits 0. Grounded on original `main/quota_manager.py::get_quota_status`/
// `get_next_reset`.
func runQuotaStatus(cmd *cobra.Command, args []string) error {
	path, err := stateFileFromConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	c := clock.Real{}
	quotaStates, deferredItems, err := quota.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "state file error: %v\n", err)
		os.Exit(2)
	}

	ledger := quota.New(c)
	ledger.Restore(quotaStates)

	fmt.Println("--- quota ledger ---")
	for _, st := range ledger.Status() {
		fmt.Println(quota.FormatStatus(st))
	}

	dq := deferred.New(c)
	dq.Restore(deferredItems)
	fmt.Printf("--- deferred queue (%d items) ---\n", dq.Len())
	for _, item := range dq.Snapshot() {
		fmt.Printf("%s  work=%s provider=%s reason=%s ready_at=%s status=%s\n",
			item.ID, item.WorkID, item.Candidate.ProviderKey, item.Reason,
			item.ReadyAt.Format("2006-01-02T15:04:05Z07:00"), item.Status)
	}
	return nil
}

// runCleanupDeferred implements cleanup-deferred: compacts terminal items
// older than 7 days, persists the result, and exits 0.
func runCleanupDeferred(cmd *cobra.Command, args []string) error {
	path, err := stateFileFromConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	c := clock.Real{}
	quotaStates, deferredItems, err := quota.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "state file error: %v\n", err)
		os.Exit(2)
	}

	dq := deferred.New(c)
	dq.Restore(deferredItems)
	removed := dq.Compact()

	if err := quota.Save(path, quotaStates, dq.Snapshot()); err != nil {
		fmt.Fprintf(os.Stderr, "state file error: %v\n", err)
		os.Exit(2)
	}
	fmt.Printf("compacted %d terminal item(s) older than 7 days\n", removed)
	return nil
}
