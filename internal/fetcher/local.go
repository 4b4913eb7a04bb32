package fetcher

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// fileFetcher reads the local filesystem.
type fileFetcher struct{}

func (fileFetcher) Download(_ context.Context, location string) (io.ReadCloser, error) {
	f, err := os.Open(localPath(location))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", location)
	}
	return f, nil
}

func (ff fileFetcher) DownloadToFile(ctx context.Context, location string, path string) (int64, error) {
	return saveTo(ctx, ff, location, path)
}
