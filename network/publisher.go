package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	"github.com/VanDung-dev/HeavyData-Engine/engine"
)

// Publisher errors
var (
	ErrNotRunning     = errors.New("publisher is not running")
	ErrAlreadyRunning = errors.New("publisher already running")
	ErrUnknownObject  = errors.New("unknown object")
	ErrBusy           = errors.New("publisher busy")
)

// DefaultChunkSize is the largest payload served by one read request.
const DefaultChunkSize = 1 << 20

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// Host is the interface to bind.
	Host string
	// Port to bind; 0 picks a free port.
	Port int
	// AdvertiseHost is the host written into references; defaults to Host.
	AdvertiseHost string
	// Workers is the number of goroutines serving reads.
	Workers int
	// QueueSize bounds the pending reads; 0 means Workers*100.
	QueueSize int
	// ChunkSize caps the payload of one read reply.
	ChunkSize int
	// Compress allows zstd payloads for fetchers asking for them.
	Compress bool
}

// DefaultPublisherConfig returns a loopback configuration on a free port.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		Host:      "127.0.0.1",
		Workers:   4,
		ChunkSize: DefaultChunkSize,
		Compress:  true,
	}
}

// Publisher serves registered files to Fetchers over a ZeroMQ ROUTER socket.
// It implements the distributed registry used by heavydata.Handle.Expose.
type Publisher struct {
	cfg PublisherConfig
	options

	mu      sync.RWMutex
	objects map[string]string // object id -> path
	running bool
	port    int

	sock   zmq4.Socket
	pool   *engine.WorkerPool
	enc    *zstd.Encoder
	sendCh chan zmq4.Msg
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewPublisher creates a stopped Publisher.
func NewPublisher(cfg PublisherConfig, opts ...Option) *Publisher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.AdvertiseHost == "" {
		cfg.AdvertiseHost = cfg.Host
	}
	return &Publisher{
		cfg:     cfg,
		options: newOptions(opts),
		objects: make(map[string]string),
	}
}

// Start binds the socket and begins serving.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sock := zmq4.NewRouter(ctx)
	if err := sock.Listen(fmt.Sprintf("tcp://%s:%d", p.cfg.Host, p.cfg.Port)); err != nil {
		cancel()
		_ = sock.Close()
		_ = enc.Close()
		return fmt.Errorf("failed to bind router: %w", err)
	}
	port := p.cfg.Port
	if addr, ok := sock.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}

	p.pool = engine.NewWorkerPool("publisher", p.cfg.Workers, p.cfg.QueueSize)
	p.pool.SetMetrics(p.metrics)
	p.sock = sock
	p.enc = enc
	p.port = port
	p.cancel = cancel
	p.sendCh = make(chan zmq4.Msg, p.cfg.Workers*4)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.receiveLoop(gctx) })
	g.Go(func() error { return p.sendLoop(gctx) })
	p.group = g
	p.running = true

	p.logger.Info("publisher started", "endpoint", p.endpointLocked())
	return nil
}

// Stop closes the socket and waits for in-flight requests. Registered
// objects are forgotten.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.objects = make(map[string]string)
	p.mu.Unlock()

	p.cancel()
	closeErr := p.sock.Close()
	p.pool.Shutdown()
	err := p.group.Wait()
	_ = p.enc.Close()
	p.metrics.UpdateExposed(0)

	p.logger.Info("publisher stopped")
	return errors.Join(err, closeErr)
}

// Endpoint returns the ZeroMQ endpoint fetchers dial, "" when stopped.
func (p *Publisher) Endpoint() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return ""
	}
	return p.endpointLocked()
}

func (p *Publisher) endpointLocked() string {
	return "tcp://" + joinHostPort(p.cfg.AdvertiseHost, p.port)
}

// Register publishes the file at path and returns its reference.
func (p *Publisher) Register(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("not a regular file: %s", abs)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return "", ErrNotRunning
	}
	id := uuid.NewString()
	p.objects[id] = abs
	p.metrics.UpdateExposed(len(p.objects))

	ref := FormatReference(p.cfg.AdvertiseHost, p.port, id)
	p.logger.Debug("object registered", "path", abs, "ref", ref)
	return ref, nil
}

// Unregister stops publishing the object behind ref.
func (p *Publisher) Unregister(ref string) error {
	_, id, err := ParseReference(ref)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.objects[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObject, ref)
	}
	delete(p.objects, id)
	p.metrics.UpdateExposed(len(p.objects))
	p.logger.Debug("object unregistered", "ref", ref)
	return nil
}

// Objects returns the number of registered objects.
func (p *Publisher) Objects() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.objects)
}

func (p *Publisher) lookup(id string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	path, ok := p.objects[id]
	return path, ok
}

func (p *Publisher) receiveLoop(ctx context.Context) error {
	for {
		msg, err := p.sock.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Debug("receive failed", "error", err)
			continue
		}
		if len(msg.Frames) < 2 {
			continue
		}
		identity := msg.Frames[0]
		req, err := ParseRequest(msg.Frames[len(msg.Frames)-1])
		if err != nil {
			p.metrics.RecordTransferRequest("invalid", err)
			p.reply(ctx, identity, Reply{Error: err.Error()}, nil)
			continue
		}

		task := engine.NewTask(req.ID, func(context.Context) (any, error) {
			return p.serve(req)
		})
		task.Done = func(r *engine.Result) {
			p.metrics.RecordTransferRequest(req.Op, r.Error)
			if !r.Success {
				p.reply(ctx, identity, Reply{Seq: req.Seq, Error: r.Error.Error()}, nil)
				return
			}
			out := r.Data.(*response)
			p.reply(ctx, identity, out.reply, out.payload)
		}
		if err := p.pool.Submit(task); err != nil {
			p.metrics.RecordTransferRequest(req.Op, err)
			p.reply(ctx, identity, Reply{Seq: req.Seq, Error: fmt.Sprintf("%v: %v", ErrBusy, err)}, nil)
		}
	}
}

func (p *Publisher) sendLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-p.sendCh:
			if err := p.sock.SendMulti(msg); err != nil && ctx.Err() == nil {
				p.logger.Debug("send failed", "error", err)
			}
		}
	}
}

func (p *Publisher) reply(ctx context.Context, identity []byte, r Reply, payload []byte) {
	header, err := json.Marshal(r)
	if err != nil {
		p.logger.Error("failed to marshal reply", "error", err)
		return
	}
	select {
	case p.sendCh <- zmq4.NewMsgFrom(identity, header, payload):
	case <-ctx.Done():
	}
}

type response struct {
	reply   Reply
	payload []byte
}

func (p *Publisher) serve(req *Request) (*response, error) {
	if p.auth != nil {
		if err := p.auth.ValidateToken(req.Token); err != nil {
			return nil, err
		}
	}
	path, ok := p.lookup(req.ID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObject, req.ID)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()

	if req.Op == OpStat {
		return &response{reply: Reply{Seq: req.Seq, OK: true, Size: size}}, nil
	}

	start := time.Now()
	want := int64(p.cfg.ChunkSize)
	if req.Size > 0 && req.Size < want {
		want = req.Size
	}
	if rest := size - req.Offset; rest < want {
		want = max(rest, 0)
	}
	buf := make([]byte, want)
	n, err := f.ReadAt(buf, req.Offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	buf = buf[:n]

	out := &response{reply: Reply{
		Seq:  req.Seq,
		OK:   true,
		Size: int64(n),
		EOF:  req.Offset+int64(n) >= size,
	}}
	if req.Compress && p.cfg.Compress && n > 0 {
		out.payload = p.enc.EncodeAll(buf, nil)
		out.reply.Compressed = true
	} else {
		out.payload = buf
	}
	p.metrics.RecordTransfer("upload", int64(n), time.Since(start))
	return out, nil
}
