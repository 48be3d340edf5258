package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/ironsheep/page-tiler/internal/imaging"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	// Startup runs in the background when Serve starts. Init requests
	// are not acknowledged until it returns without error.
	Startup func(ctx context.Context) error

	Logger *log.Logger
	Debug  bool
}

// Server is the worker side of the transport. It decodes pages with its
// decoder and serves operations on the resulting images.
type Server struct {
	ch       Channel
	decoder  imaging.Decoder
	registry *Registry
	opts     ServerOptions
	log      *log.Logger

	ready chan struct{}

	mu   sync.Mutex
	jobs map[uint64]context.CancelFunc
	wg   sync.WaitGroup
}

// NewServer creates a server answering requests received on ch.
func NewServer(ch Channel, decoder imaging.Decoder, opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Server{
		ch:       ch,
		decoder:  decoder,
		registry: NewRegistry(),
		opts:     opts,
		log:      opts.Logger,
		ready:    make(chan struct{}),
		jobs:     make(map[uint64]context.CancelFunc),
	}
}

// Registry returns the server's image registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) debugf(format string, args ...interface{}) {
	if s.opts.Debug {
		s.log.Printf(format, args...)
	}
}

// Serve handles requests until ctx ends or the channel closes. Every
// request runs on its own goroutine, so responses may be sent in any
// order. All registered images are closed before Serve returns.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.startup(ctx)
	go func() {
		<-ctx.Done()
		s.ch.Close()
	}()

	// Closing the channel does not unblock every reader (stdin), so
	// receiving runs apart and Serve stops on ctx alone.
	envs := make(chan Envelope)
	errc := make(chan error, 1)
	go func() {
		for {
			env, err := s.ch.Receive()
			if err != nil {
				errc <- err
				return
			}
			select {
			case envs <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	var err error
loop:
	for {
		select {
		case env := <-envs:
			s.dispatch(ctx, env)
		case err = <-errc:
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	cancel()
	s.wg.Wait()
	s.registry.CloseAll()

	if err == nil || errors.Is(err, ErrClosed) || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("receive failed: %w", err)
}

func (s *Server) startup(ctx context.Context) {
	if s.opts.Startup != nil {
		if err := s.opts.Startup(ctx); err != nil {
			s.log.Printf("Worker startup failed: %v", err)
			return
		}
	}
	close(s.ready)
	s.debugf("Worker ready")
}

func (s *Server) dispatch(ctx context.Context, env Envelope) {
	switch req := env.Body.(type) {
	case *Init:
		select {
		case <-s.ready:
			s.send(env.ID, &InitAck{})
		default:
			s.debugf("Ignoring init %d, worker still starting", env.ID)
		}
	case *Cancel:
		s.mu.Lock()
		cancel, ok := s.jobs[req.Target]
		s.mu.Unlock()
		if ok {
			s.debugf("Canceling request %d", req.Target)
			cancel()
		}
	default:
		jobCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.jobs[env.ID] = cancel
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			resp := s.handle(jobCtx, env.Body)

			s.mu.Lock()
			delete(s.jobs, env.ID)
			s.mu.Unlock()
			cancel()

			s.send(env.ID, resp)
		}()
	}
}

func (s *Server) send(id uint64, body Body) {
	if err := s.ch.Send(Envelope{ID: id, Body: body}); err != nil {
		s.debugf("Failed to send %s response %d: %v", body.Kind(), id, err)
	}
}

// handle routes a request to its operation.
func (s *Server) handle(ctx context.Context, body Body) Body {
	switch req := body.(type) {
	case *Decode:
		img, err := s.decoder.Decode(ctx, req.Data, imaging.DecodeOptions{
			Width:  req.Width,
			Height: req.Height,
			Crop:   req.Crop,
		})
		return s.register(ctx, img, err)
	case *ExtractArea:
		return s.derive(ctx, req.ImageID, func(img imaging.Image) (imaging.Image, error) {
			return img.ExtractArea(ctx, req.Rect)
		})
	case *Resize:
		return s.derive(ctx, req.ImageID, func(img imaging.Image) (imaging.Image, error) {
			return img.Resize(ctx, req.Width, req.Height, imaging.ResizeOptions{
				Crop:        req.Crop,
				Kernel:      req.Kernel,
				LinearLight: req.LinearLight,
			})
		})
	case *Shrink:
		return s.derive(ctx, req.ImageID, func(img imaging.Image) (imaging.Image, error) {
			return img.Shrink(ctx, req.Factor)
		})
	case *MakeHistogram:
		return s.derive(ctx, req.ImageID, func(img imaging.Image) (imaging.Image, error) {
			return img.MakeHistogram(ctx)
		})
	case *MapLookupTable:
		return s.derive(ctx, req.ImageID, func(img imaging.Image) (imaging.Image, error) {
			return img.MapLookupTable(ctx, req.Table)
		})
	case *FindTrim:
		img, err := s.registry.Get(req.ImageID)
		if err != nil {
			return errorFrom(err)
		}
		rect, err := img.FindTrim(ctx)
		if err != nil {
			return errorFrom(err)
		}
		return &Trim{Rect: rect}
	case *GetBytes:
		img, err := s.registry.Get(req.ImageID)
		if err != nil {
			return errorFrom(err)
		}
		data, err := img.Bytes(ctx)
		if err != nil {
			return errorFrom(err)
		}
		return &Bytes{Data: data}
	case *CloseImage:
		if err := s.registry.Close(req.ImageID); err != nil {
			return errorFrom(err)
		}
		return &Done{}
	default:
		return &Error{Code: CodeProtocol, Message: fmt.Sprintf("unsupported request: %s", body.Kind())}
	}
}

func (s *Server) derive(ctx context.Context, id uint64, op func(imaging.Image) (imaging.Image, error)) Body {
	img, err := s.registry.Get(id)
	if err != nil {
		return errorFrom(err)
	}
	out, err := op(img)
	return s.register(ctx, out, err)
}

// register stores a finished result. A result of a canceled job has no
// caller left to close it, so it is closed here.
func (s *Server) register(ctx context.Context, img imaging.Image, err error) Body {
	if err != nil {
		return errorFrom(err)
	}
	if ctx.Err() != nil {
		img.Close()
		return errorFrom(ctx.Err())
	}
	return &ImageInfo{
		ImageID: s.registry.Add(img),
		Width:   img.Width(),
		Height:  img.Height(),
		Format:  img.Format(),
	}
}
