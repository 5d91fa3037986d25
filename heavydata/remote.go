package heavydata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/VanDung-dev/HeavyData-Engine/errdefs"
)

// Resolver downloads the file behind a published reference.
type Resolver interface {
	// Fetch writes the whole file behind ref to w and returns the number of
	// bytes written.
	Fetch(ctx context.Context, ref string, w io.Writer) (int64, error)
}

// RemoteHandle refers to a backing file published on another host. It
// holds no data until MaterializeLocally downloads it.
type RemoteHandle struct {
	ref  string
	opts []Option
}

// NewRemoteHandle returns a handle for ref. The options are applied to the
// local handle created by MaterializeLocally.
func NewRemoteHandle(ref string, opts ...Option) *RemoteHandle {
	return &RemoteHandle{ref: ref, opts: opts}
}

// Reference returns the reference, "" once it has been materialized.
func (r *RemoteHandle) Reference() string { return r.ref }

// MaterializeLocally downloads the whole backing file to a temporary file
// and returns a closed local handle owning it. The reference is consumed:
// the local copy is independent of the published file.
func (r *RemoteHandle) MaterializeLocally(ctx context.Context, resolver Resolver) (*Handle, error) {
	if r.ref == "" {
		return nil, errdefs.Statef("remote reference already materialized")
	}
	h := New("", r.opts...)
	h.path = h.tempPath()

	start := time.Now()
	h.logger.Info("transfer starting", "ref", r.ref, "path", h.path)
	n, err := download(ctx, resolver, r.ref, h.path)
	if err != nil {
		os.Remove(h.path)
		if errors.Is(err, errdefs.ErrTransfer) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: download %s: %w", errdefs.ErrTransfer, r.ref, err)
	}
	h.temp = true
	h.metrics.RecordTransfer("download", n, time.Since(start))
	h.logger.Info("transfer finished", "ref", r.ref, "path", h.path, "bytes", n, "duration", time.Since(start))

	r.ref = ""
	return h, nil
}

func download(ctx context.Context, resolver Resolver, ref, path string) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := resolver.Fetch(ctx, ref, f)
	if err != nil {
		f.Close()
		return n, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return n, err
	}
	return n, f.Close()
}

// FromReference materializes ref locally in one step.
func FromReference(ctx context.Context, ref string, resolver Resolver, opts ...Option) (*Handle, error) {
	return NewRemoteHandle(ref, opts...).MaterializeLocally(ctx, resolver)
}
