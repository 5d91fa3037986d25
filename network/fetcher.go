package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/VanDung-dev/HeavyData-Engine/errdefs"
)

// ErrRemote reports an error returned by the publisher.
var ErrRemote = errors.New("remote error")

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	// Token is sent with every request.
	Token string
	// ChunkSize is the payload size asked for per read request.
	ChunkSize int
	// Compress asks the publisher for zstd payloads.
	Compress bool
	// RequestTimeout bounds the wait for each reply.
	RequestTimeout time.Duration
}

// DefaultFetcherConfig returns the default fetcher configuration.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		ChunkSize:      DefaultChunkSize,
		Compress:       true,
		RequestTimeout: 30 * time.Second,
	}
}

// Fetcher downloads published files over a ZeroMQ DEALER socket. It
// implements heavydata.Resolver.
type Fetcher struct {
	cfg FetcherConfig
	options
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig, opts ...Option) *Fetcher {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Fetcher{cfg: cfg, options: newOptions(opts)}
}

// Fetch writes the whole file behind ref to w. Every failure wraps
// errdefs.ErrTransfer.
func (f *Fetcher) Fetch(ctx context.Context, ref string, w io.Writer) (int64, error) {
	start := time.Now()
	n, err := f.fetch(ctx, ref, w)
	if err != nil {
		return n, fmt.Errorf("%w: fetch %s: %w", errdefs.ErrTransfer, ref, err)
	}
	f.metrics.RecordTransfer("download", n, time.Since(start))
	f.logger.Debug("object fetched", "ref", ref, "bytes", n, "duration", time.Since(start))
	return n, nil
}

func (f *Fetcher) fetch(ctx context.Context, ref string, w io.Writer) (int64, error) {
	endpoint, id, err := ParseReference(ref)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sock := zmq4.NewDealer(ctx, zmq4.WithID(zmq4.SocketIdentity(uuid.NewString())))
	defer sock.Close()
	if err := sock.Dial(endpoint); err != nil {
		return 0, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	c := &call{sock: sock, timeout: f.cfg.RequestTimeout}
	stat, _, err := c.roundTrip(ctx, Request{Op: OpStat, ID: id, Token: f.cfg.Token})
	if err != nil {
		return 0, err
	}
	size := stat.Size

	var dec *zstd.Decoder
	if f.cfg.Compress {
		if dec, err = zstd.NewReader(nil); err != nil {
			return 0, err
		}
		defer dec.Close()
	}

	var off int64
	for off < size {
		reply, payload, err := c.roundTrip(ctx, Request{
			Op:       OpRead,
			ID:       id,
			Offset:   off,
			Size:     int64(f.cfg.ChunkSize),
			Token:    f.cfg.Token,
			Compress: f.cfg.Compress,
		})
		if err != nil {
			return off, err
		}
		if reply.Compressed {
			if dec == nil {
				return off, errors.New("unrequested compressed payload")
			}
			if payload, err = dec.DecodeAll(payload, nil); err != nil {
				return off, fmt.Errorf("failed to decompress chunk at %d: %w", off, err)
			}
		}
		if int64(len(payload)) != reply.Size {
			return off, fmt.Errorf("chunk at %d: got %d bytes, want %d", off, len(payload), reply.Size)
		}
		if len(payload) == 0 {
			return off, fmt.Errorf("file truncated at %d of %d bytes", off, size)
		}
		m, err := w.Write(payload)
		off += int64(m)
		if err != nil {
			return off, err
		}
		if reply.EOF {
			break
		}
	}
	if off != size {
		return off, fmt.Errorf("got %d bytes, want %d", off, size)
	}
	return off, nil
}

// call runs sequential request/reply exchanges on one DEALER socket.
type call struct {
	sock    zmq4.Socket
	timeout time.Duration
	seq     uint64
}

type received struct {
	msg zmq4.Msg
	err error
}

func (c *call) roundTrip(ctx context.Context, req Request) (*Reply, []byte, error) {
	c.seq++
	req.Seq = c.seq
	header, err := json.Marshal(req)
	if err != nil {
		return nil, nil, err
	}
	if err := c.sock.Send(zmq4.NewMsg(header)); err != nil {
		return nil, nil, fmt.Errorf("failed to send %s request: %w", req.Op, err)
	}

	ch := make(chan received, 1)
	go func() {
		msg, err := c.sock.Recv()
		ch <- received{msg, err}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	var in received
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-timer.C:
		return nil, nil, fmt.Errorf("%s request timed out after %v", req.Op, c.timeout)
	case in = <-ch:
	}
	if in.err != nil {
		return nil, nil, fmt.Errorf("failed to receive %s reply: %w", req.Op, in.err)
	}
	if len(in.msg.Frames) == 0 {
		return nil, nil, errors.New("empty reply")
	}

	var reply Reply
	if err := json.Unmarshal(in.msg.Frames[0], &reply); err != nil {
		return nil, nil, fmt.Errorf("bad reply header: %w", err)
	}
	if !reply.OK {
		return nil, nil, fmt.Errorf("%w: %s", ErrRemote, reply.Error)
	}
	if reply.Seq != req.Seq {
		return nil, nil, fmt.Errorf("reply %d out of sequence, want %d", reply.Seq, req.Seq)
	}
	var payload []byte
	if len(in.msg.Frames) > 1 {
		payload = in.msg.Frames[1]
	}
	return &reply, payload, nil
}
