package summary

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pdiddy/archivist/internal/budget"
	"github.com/pdiddy/archivist/internal/scheduler"
	"github.com/pdiddy/archivist/pkg/types"
)

func TestPrint_RendersStatsAndTotals(t *testing.T) {
	acct := budget.New(budget.Limits{}, types.PolicySkip)
	acct.BeginWork()
	require := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	require(acct.Account(types.ClassPDF, 2_000_000, true))

	var buf bytes.Buffer
	Print(&buf, scheduler.Stats{Completed: 3, Failed: 1, Deferred: 2, NoMatch: 1}, acct)

	out := buf.String()
	assert.Contains(t, out, "completed: 3")
	assert.Contains(t, out, "failed:    1")
	assert.Contains(t, out, "deferred:  2")
	assert.Contains(t, out, "no_match:  1")
	assert.Contains(t, out, "pdf:")
	assert.Contains(t, out, "across 1 files")
}

func TestPrint_ZeroStatsStillRendersAllLabels(t *testing.T) {
	acct := budget.New(budget.Limits{}, types.PolicySkip)
	var buf bytes.Buffer
	Print(&buf, scheduler.Stats{}, acct)

	out := buf.String()
	assert.Contains(t, out, "completed: 0")
	assert.Contains(t, out, "image:")
	assert.Contains(t, out, "metadata:")
}
