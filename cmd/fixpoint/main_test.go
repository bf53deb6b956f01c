package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/executor"
)

const plansDir = "../../examples/plans"

func ints(vals ...int64) fixpoint.Row {
	r := make(fixpoint.Row, len(vals))
	for i, v := range vals {
		r[i] = v
	}
	return r
}

func TestExamplePlans(t *testing.T) {
	opts, err := executor.LoadOptions(filepath.Join(plansDir, "fixpoint.yaml"))
	require.NoError(t, err)
	engine := executor.NewEngine(opts)
	sources := readSources(filepath.Join(plansDir, "edges.edn"))

	tests := []struct {
		file  string
		check func(t *testing.T, res *executor.Result)
	}{
		{
			file: "closure.edn",
			check: func(t *testing.T, res *executor.Result) {
				require.Len(t, res.Rows, 13)
				assert.Equal(t, ints(1, 2), res.Rows[0])
				assert.Equal(t, ints(5, 6), res.Rows[12])
			},
		},
		{
			file: "reachability_counts.edn",
			check: func(t *testing.T, res *executor.Result) {
				assert.Equal(t, []fixpoint.Row{ints(1, 3), ints(2, 3), ints(3, 3)}, res.Rows)
			},
		},
		{
			file: "parity.edn",
			check: func(t *testing.T, res *executor.Result) {
				require.Len(t, res.Rows, 10)
				for i, r := range res.Rows {
					assert.Equal(t, ints(int64(i)), r)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			text, err := os.ReadFile(filepath.Join(plansDir, tt.file))
			require.NoError(t, err)
			res, err := engine.ExecuteText(context.Background(), string(text), sources)
			require.NoError(t, err)
			tt.check(t, res)
		})
	}
}

func TestImportAndOpenSources(t *testing.T) {
	db := filepath.Join(t.TempDir(), "graph.db")
	importSources(filepath.Join(plansDir, "edges.edn"), db)

	src, closeSources := openSources("", db)
	defer closeSources()

	edges, err := src.Source(context.Background(), "edges")
	require.NoError(t, err)
	assert.Equal(t, 5, edges.Len())

	none, closeNone := openSources("", "")
	defer closeNone()
	assert.Nil(t, none)
}
