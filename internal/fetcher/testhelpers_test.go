package fetcher

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/geo-events/internal/event"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// writeTestFile writes content under dir and returns the path.
func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type nexter interface {
	Next(ctx context.Context) (event.RawRecord, error)
}

// drain reads src to io.EOF.
func drain(t *testing.T, src nexter) []event.RawRecord {
	t.Helper()
	var out []event.RawRecord
	for {
		rec, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}
