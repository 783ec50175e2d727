//go:build integration

package semantic

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func qdrantAddr() string {
	if v := os.Getenv("QDRANT_URL"); v != "" {
		return v
	}
	return "localhost:6334"
}

func TestQdrant_WriteWindowTwice(t *testing.T) {
	vs, err := New(qdrantAddr(), "rollwin_integration")
	require.NoError(t, err)
	t.Cleanup(func() { _ = vs.Close() })

	nodes := nodeFrame(t,
		[]any{"bank1", []string{"Bank"}, []float64{1, 0, 0}},
		[]any{"person1", []string{"Person"}, []float64{0, 1, 0}},
	)
	for range 2 {
		n, err := vs.WriteWindow(context.Background(), testMeta(), nodes)
		require.NoError(t, err)
		require.Equal(t, 2, n)
	}
}
