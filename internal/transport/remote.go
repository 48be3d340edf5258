package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/ironsheep/page-tiler/internal/imaging"
)

// RemoteDecoder decodes on the worker behind a Client.
type RemoteDecoder struct {
	c *Client
}

var _ imaging.Decoder = (*RemoteDecoder)(nil)

// NewRemoteDecoder returns a decoder using c.
func NewRemoteDecoder(c *Client) *RemoteDecoder {
	return &RemoteDecoder{c: c}
}

// Decode transfers data to the worker; the caller must not modify it
// afterwards.
func (d *RemoteDecoder) Decode(ctx context.Context, data []byte, opts imaging.DecodeOptions) (imaging.Image, error) {
	resp, err := d.c.Call(ctx, &Decode{Data: data, Width: opts.Width, Height: opts.Height, Crop: opts.Crop})
	if err != nil {
		var te *Error
		if errors.As(err, &te) && te.Code == CodeDecode {
			return nil, &imaging.DecodeError{Err: te}
		}
		return nil, err
	}
	return d.c.remoteImage(resp)
}

func (c *Client) remoteImage(resp Body) (*RemoteImage, error) {
	info, ok := resp.(*ImageInfo)
	if !ok {
		return nil, unexpected(resp)
	}
	return &RemoteImage{
		c:      c,
		id:     info.ImageID,
		width:  info.Width,
		height: info.Height,
		format: info.Format,
	}, nil
}

// RemoteImage is an imaging.Image living in the worker. Operations are
// forwarded over the transport and suspend until the worker answers.
type RemoteImage struct {
	c  *Client
	id uint64

	width, height int
	format        imaging.Format

	mu     sync.Mutex
	closed bool
}

var _ imaging.Image = (*RemoteImage)(nil)

func (r *RemoteImage) Width() int             { return r.width }
func (r *RemoteImage) Height() int            { return r.height }
func (r *RemoteImage) Bands() int             { return r.format.Bands() }
func (r *RemoteImage) Format() imaging.Format { return r.format }

// ID returns the worker-side image id.
func (r *RemoteImage) ID() uint64 { return r.id }

func (r *RemoteImage) call(ctx context.Context, req Body) (Body, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, imaging.ErrUseAfterClose
	}
	return r.c.Call(ctx, req)
}

func (r *RemoteImage) derive(ctx context.Context, req Body) (imaging.Image, error) {
	resp, err := r.call(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.c.remoteImage(resp)
}

func (r *RemoteImage) ExtractArea(ctx context.Context, rect imaging.Rect) (imaging.Image, error) {
	if !rect.Within(r.width, r.height) {
		return nil, &imaging.OutOfBoundsError{Rect: rect, Width: r.width, Height: r.height}
	}
	return r.derive(ctx, &ExtractArea{ImageID: r.id, Rect: rect})
}

func (r *RemoteImage) Resize(ctx context.Context, width, height int, opts imaging.ResizeOptions) (imaging.Image, error) {
	return r.derive(ctx, &Resize{
		ImageID:     r.id,
		Width:       width,
		Height:      height,
		Crop:        opts.Crop,
		Kernel:      opts.Kernel,
		LinearLight: opts.LinearLight,
	})
}

func (r *RemoteImage) Shrink(ctx context.Context, factor float64) (imaging.Image, error) {
	return r.derive(ctx, &Shrink{ImageID: r.id, Factor: factor})
}

func (r *RemoteImage) MakeHistogram(ctx context.Context) (imaging.Image, error) {
	return r.derive(ctx, &MakeHistogram{ImageID: r.id})
}

// MapLookupTable transfers table to the worker, which only reads it.
func (r *RemoteImage) MapLookupTable(ctx context.Context, table []byte) (imaging.Image, error) {
	return r.derive(ctx, &MapLookupTable{ImageID: r.id, Table: table})
}

func (r *RemoteImage) FindTrim(ctx context.Context) (imaging.Rect, error) {
	resp, err := r.call(ctx, &FindTrim{ImageID: r.id})
	if err != nil {
		return imaging.Rect{}, err
	}
	trim, ok := resp.(*Trim)
	if !ok {
		return imaging.Rect{}, unexpected(resp)
	}
	return trim.Rect, nil
}

func (r *RemoteImage) Bytes(ctx context.Context) ([]byte, error) {
	resp, err := r.call(ctx, &GetBytes{ImageID: r.id})
	if err != nil {
		return nil, err
	}
	b, ok := resp.(*Bytes)
	if !ok {
		return nil, unexpected(resp)
	}
	return b.Data, nil
}

// Close releases the worker-side image. Later calls do nothing.
func (r *RemoteImage) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if _, err := r.c.Call(context.Background(), &CloseImage{ImageID: r.id}); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}
