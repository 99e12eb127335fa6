package job

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority bounds; 0 is the most urgent.
const (
	MinPriority = 0
	MaxPriority = 9
)

// Supported paper widths in millimeters.
const (
	PaperWidth53      = 53
	PaperWidth80      = 80
	DefaultPaperWidth = PaperWidth80
)

// Orientation controls horizontal placement of an element.
type Orientation string

const (
	OrientationLeft   Orientation = "left"
	OrientationCenter Orientation = "center"
	OrientationRight  Orientation = "right"
)

// Font selects one of the printer's built-in fonts.
type Font string

const (
	FontA Font = "A"
	FontB Font = "B"
	FontC Font = "C"
)

// BarcodeKind identifies a symbology supported by the printer.
type BarcodeKind string

const (
	BarcodeUPCA    BarcodeKind = "upca"
	BarcodeUPCE    BarcodeKind = "upce"
	BarcodeEAN8    BarcodeKind = "ean8"
	BarcodeEAN13   BarcodeKind = "ean13"
	BarcodeCode39  BarcodeKind = "code39"
	BarcodeCode93  BarcodeKind = "code93"
	BarcodeCode128 BarcodeKind = "code128"
	BarcodeQR      BarcodeKind = "qr-code"
)

// ElementType discriminates the Element union.
type ElementType string

const (
	ElementText    ElementType = "text"
	ElementBarcode ElementType = "barcode"
	ElementImage   ElementType = "image"
)

// Job is one unit of printable work. A Job is immutable once enqueued;
// expiry and status are attributes of the dispatch attempt, not of the
// stored entry.
type Job struct {
	JobID       string     `json:"job_id"`
	Priority    int        `json:"priority"`
	PaperWidth  int        `json:"paper_width"`
	FeedAfter   int        `json:"feed_after"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	Elements    []Element  `json:"message"`
}

// Expired reports whether the job's deadline has passed at the given time.
func (j *Job) Expired(now time.Time) bool {
	return j.ExpiresAt != nil && !now.Before(*j.ExpiresAt)
}

// Element is a tagged union over the three printable variants. Exactly
// one of Text, Barcode, Image is non-nil, matching Type.
type Element struct {
	Type    ElementType
	Text    *Text
	Barcode *Barcode
	Image   *Image
}

// Text is a line of styled text.
type Text struct {
	Content      string      `json:"content"`
	Orientation  Orientation `json:"orientation"`
	Bold         bool        `json:"bold,omitempty"`
	Underline    bool        `json:"underline,omitempty"`
	Italic       bool        `json:"italic,omitempty"`
	DoubleHeight bool        `json:"double_height,omitempty"`
	Font         Font        `json:"font"`
	Size         int         `json:"size"`
}

// Barcode is a 1D or QR barcode. ECCLevel is meaningful for QR only.
type Barcode struct {
	Content      string      `json:"content"`
	Kind         BarcodeKind `json:"barcode_type"`
	Height       int         `json:"height,omitempty"`
	Width        int         `json:"width,omitempty"`
	ECCLevel     int         `json:"eccLevel,omitempty"`
	Mode         int         `json:"mode,omitempty"`
	Alignment    Orientation `json:"alignment"`
	TextPosition int         `json:"textPosition,omitempty"`
	Attribute    int         `json:"attribute,omitempty"`
}

// Image is decoded binary image data. NVKey, when set, selects a
// non-volatile storage slot (0-255) on the device.
type Image struct {
	Content     []byte      `json:"content"`
	Orientation Orientation `json:"orientation"`
	NVKey       *int        `json:"nv_key,omitempty"`
}

// MarshalJSON flattens the union into the wire shape
// {"type":"text", ...variant fields...}.
func (e Element) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case ElementText:
		return json.Marshal(struct {
			Type ElementType `json:"type"`
			*Text
		}{e.Type, e.Text})
	case ElementBarcode:
		return json.Marshal(struct {
			Type ElementType `json:"type"`
			*Barcode
		}{e.Type, e.Barcode})
	case ElementImage:
		return json.Marshal(struct {
			Type ElementType `json:"type"`
			*Image
		}{e.Type, e.Image})
	default:
		return nil, fmt.Errorf("unknown element type %q", e.Type)
	}
}

// UnmarshalJSON restores the union from its flat wire shape. This is the
// trusted decode path for payloads already validated at intake; it still
// fails on an unknown tag so that corrupted entries surface.
func (e *Element) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type ElementType `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}

	switch tag.Type {
	case ElementText:
		var t Text
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		*e = Element{Type: ElementText, Text: &t}
	case ElementBarcode:
		var b Barcode
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*e = Element{Type: ElementBarcode, Barcode: &b}
	case ElementImage:
		var img Image
		if err := json.Unmarshal(data, &img); err != nil {
			return err
		}
		*e = Element{Type: ElementImage, Image: &img}
	default:
		return fmt.Errorf("unknown element type %q", tag.Type)
	}
	return nil
}

// Encode serializes the job for spool storage.
func (j *Job) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// Decode restores a job from its spool payload.
func Decode(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to decode job payload: %w", err)
	}
	return &j, nil
}
