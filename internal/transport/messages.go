// Package transport reaches an image decoder that runs in another
// goroutine or process through a request/response message protocol.
//
// Every request carries a unique, monotonically increasing correlation id
// and yields exactly one response with the same id, or an *Error. Cancel
// is the only request without a response. At startup the client repeats
// Init with backoff until the worker acknowledges it.
//
// Large byte payloads (encoded pages, lookup tables, pixels) are handed
// over by reference on in-process channels and travel raw after the
// frame header on streams. A sender must not modify a buffer after
// sending it.
package transport

import (
	"github.com/ironsheep/page-tiler/internal/imaging"
)

// Kind discriminates message bodies.
type Kind string

// Request kinds.
const (
	KindInit           Kind = "init"
	KindDecode         Kind = "decode"
	KindExtractArea    Kind = "extract_area"
	KindResize         Kind = "resize"
	KindShrink         Kind = "shrink"
	KindFindTrim       Kind = "find_trim"
	KindMakeHistogram  Kind = "make_histogram"
	KindMapLookupTable Kind = "map_lookup_table"
	KindGetBytes       Kind = "get_bytes"
	KindCloseImage     Kind = "close_image"
	KindCancel         Kind = "cancel"
)

// Response kinds.
const (
	KindInitAck Kind = "init_ack"
	KindImage   Kind = "image"
	KindTrim    Kind = "trim"
	KindBytes   Kind = "bytes"
	KindDone    Kind = "done"
	KindError   Kind = "error"
)

// Body is a request or response. Bodies are always used by pointer.
type Body interface {
	Kind() Kind
}

// payloadBody is a body whose byte slice travels outside the JSON header.
type payloadBody interface {
	Body
	payload() []byte
	setPayload([]byte)
}

// Envelope is one message on a Channel.
type Envelope struct {
	ID   uint64
	Body Body
}

// Init asks the worker whether it is ready.
type Init struct{}

// Decode decodes Data into a new worker-side image.
type Decode struct {
	Data   []byte `json:"-"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Crop   bool   `json:"crop,omitempty"`
}

type ExtractArea struct {
	ImageID uint64       `json:"image_id"`
	Rect    imaging.Rect `json:"rect"`
}

type Resize struct {
	ImageID     uint64         `json:"image_id"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	Crop        bool           `json:"crop,omitempty"`
	Kernel      imaging.Kernel `json:"kernel"`
	LinearLight bool           `json:"linear_light,omitempty"`
}

type Shrink struct {
	ImageID uint64  `json:"image_id"`
	Factor  float64 `json:"factor"`
}

type FindTrim struct {
	ImageID uint64 `json:"image_id"`
}

type MakeHistogram struct {
	ImageID uint64 `json:"image_id"`
}

type MapLookupTable struct {
	ImageID uint64 `json:"image_id"`
	Table   []byte `json:"-"`
}

type GetBytes struct {
	ImageID uint64 `json:"image_id"`
}

type CloseImage struct {
	ImageID uint64 `json:"image_id"`
}

// Cancel asks the worker to abandon request Target. It has no response;
// the canceled request still answers with an Error.
type Cancel struct {
	Target uint64 `json:"target"`
}

// InitAck acknowledges Init.
type InitAck struct{}

// ImageInfo describes a worker-side image created by a request.
type ImageInfo struct {
	ImageID uint64         `json:"image_id"`
	Width   int            `json:"width"`
	Height  int            `json:"height"`
	Format  imaging.Format `json:"format"`
}

type Trim struct {
	Rect imaging.Rect `json:"rect"`
}

type Bytes struct {
	Data []byte `json:"-"`
}

// Done acknowledges a request without a result.
type Done struct{}

func (*Init) Kind() Kind           { return KindInit }
func (*Decode) Kind() Kind         { return KindDecode }
func (*ExtractArea) Kind() Kind    { return KindExtractArea }
func (*Resize) Kind() Kind         { return KindResize }
func (*Shrink) Kind() Kind         { return KindShrink }
func (*FindTrim) Kind() Kind       { return KindFindTrim }
func (*MakeHistogram) Kind() Kind  { return KindMakeHistogram }
func (*MapLookupTable) Kind() Kind { return KindMapLookupTable }
func (*GetBytes) Kind() Kind       { return KindGetBytes }
func (*CloseImage) Kind() Kind     { return KindCloseImage }
func (*Cancel) Kind() Kind         { return KindCancel }
func (*InitAck) Kind() Kind        { return KindInitAck }
func (*ImageInfo) Kind() Kind      { return KindImage }
func (*Trim) Kind() Kind           { return KindTrim }
func (*Bytes) Kind() Kind          { return KindBytes }
func (*Done) Kind() Kind           { return KindDone }

func (b *Decode) payload() []byte             { return b.Data }
func (b *Decode) setPayload(p []byte)         { b.Data = p }
func (b *MapLookupTable) payload() []byte     { return b.Table }
func (b *MapLookupTable) setPayload(p []byte) { b.Table = p }
func (b *Bytes) payload() []byte              { return b.Data }
func (b *Bytes) setPayload(p []byte)          { b.Data = p }

// newBody returns an empty body of kind, ready to be unmarshaled into.
func newBody(kind Kind) (Body, bool) {
	switch kind {
	case KindInit:
		return &Init{}, true
	case KindDecode:
		return &Decode{}, true
	case KindExtractArea:
		return &ExtractArea{}, true
	case KindResize:
		return &Resize{}, true
	case KindShrink:
		return &Shrink{}, true
	case KindFindTrim:
		return &FindTrim{}, true
	case KindMakeHistogram:
		return &MakeHistogram{}, true
	case KindMapLookupTable:
		return &MapLookupTable{}, true
	case KindGetBytes:
		return &GetBytes{}, true
	case KindCloseImage:
		return &CloseImage{}, true
	case KindCancel:
		return &Cancel{}, true
	case KindInitAck:
		return &InitAck{}, true
	case KindImage:
		return &ImageInfo{}, true
	case KindTrim:
		return &Trim{}, true
	case KindBytes:
		return &Bytes{}, true
	case KindDone:
		return &Done{}, true
	case KindError:
		return &Error{}, true
	default:
		return nil, false
	}
}
