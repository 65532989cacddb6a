package watch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/truthmint/internal/testutil"
)

func TestBatchesAdmittedChanges(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	p.CreateFile("src/a.go", "package src\n")

	w, err := New(p.Path, p.Policy(), 100*time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	batches := make(chan []string, 4)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(_ context.Context, paths []string) { batches <- paths })
	}()

	p.CreateFile("_truth/ignored.zip", "x")
	p.CreateFile("src/a.go", "package src\n\nvar A = 1\n")
	p.CreateFile("notes.tmp", "scratch")

	select {
	case paths := <-batches:
		assert.Contains(t, paths, "src/a.go")
		assert.NotContains(t, paths, "notes.tmp")
		for _, path := range paths {
			assert.NotContains(t, path, "_truth/")
		}
	case <-ctx.Done():
		t.Fatal("no change batch delivered")
	}

	cancel()
	require.NoError(t, <-done)
}
