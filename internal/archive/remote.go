package archive

import (
	"archive/zip"
	"context"
	"fmt"

	"github.com/bnema/wowpkg/internal/fetch"
)

// remoteProbeChunk is how much of the archive tail is fetched up
// front; large enough to cover the central directory of typical addon
// zips in one request.
const remoteProbeChunk int64 = 64 << 10

// OpenRemote opens a remote zip by reading its central directory
// through byte-range requests, avoiding the full download. Member
// reads issue further range requests on demand. This is a bandwidth
// optimisation: callers fall back to downloading the archive when the
// server does not cooperate.
func OpenRemote(ctx context.Context, client *fetch.Client, url string) (*zip.Reader, error) {
	tail, total, err := client.GetRange(ctx, url, -remoteProbeChunk, -1)
	if err != nil {
		return nil, err
	}
	if total < 0 || int64(len(tail)) > total {
		return nil, fmt.Errorf("server did not report archive size for %s", url)
	}

	ra := &remoteReaderAt{
		ctx:    ctx,
		client: client,
		url:    url,
		size:   total,
		tail:   tail,
	}
	r, err := zip.NewReader(ra, total)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote archive directory: %w", err)
	}
	return r, nil
}

// RemoteTopFolders lists a remote zip's addon folders without
// downloading the archive.
func RemoteTopFolders(ctx context.Context, client *fetch.Client, url string) ([]string, error) {
	r, err := OpenRemote(ctx, client, url)
	if err != nil {
		return nil, err
	}
	return folders(memberNames(r))
}

// remoteReaderAt satisfies zip.NewReader over HTTP. Reads inside the
// prefetched tail are served locally; anything earlier becomes a range
// request.
type remoteReaderAt struct {
	ctx    context.Context
	client *fetch.Client
	url    string
	size   int64
	tail   []byte
}

func (r *remoteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	tailStart := r.size - int64(len(r.tail))
	if off >= tailStart {
		n := copy(p, r.tail[off-tailStart:])
		if n < len(p) {
			return n, fmt.Errorf("read past end of archive")
		}
		return n, nil
	}

	body, _, err := r.client.GetRange(r.ctx, r.url, off, off+int64(len(p))-1)
	if err != nil {
		return 0, err
	}
	n := copy(p, body)
	if n < len(p) {
		return n, fmt.Errorf("short range read from %s", r.url)
	}
	return n, nil
}
