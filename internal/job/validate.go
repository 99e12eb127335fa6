package job

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ValidationError describes a rejected payload. Field names the violated
// constraint so rejection acks can reference it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job payload: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

var topLevelFields = map[string]bool{
	"job_id":      true,
	"priority":    true,
	"paper_width": true,
	"feed_after":  true,
	"expires":     true,
	"timestamp":   true,
	"message":     true,
}

var textFields = map[string]bool{
	"type": true, "content": true, "orientation": true,
	"bold": true, "underline": true, "italic": true,
	"double_height": true, "font": true, "size": true,
}

var barcodeFields = map[string]bool{
	"type": true, "content": true, "barcode_type": true,
	"height": true, "width": true, "eccLevel": true, "mode": true,
	"alignment": true, "textPosition": true, "attribute": true,
}

var imageFields = map[string]bool{
	"type": true, "content": true, "orientation": true, "nv_key": true,
}

var barcodeKinds = map[BarcodeKind]bool{
	BarcodeUPCA: true, BarcodeUPCE: true, BarcodeEAN8: true,
	BarcodeEAN13: true, BarcodeCode39: true, BarcodeCode93: true,
	BarcodeCode128: true, BarcodeQR: true,
}

// Validate parses an inbound job payload, enforces the schema, fills
// defaults, and assigns a job id when the payload omits one. The
// caller-supplied timestamp field is accepted but ignored; SubmittedAt is
// stamped by the ingress adapter at enqueue time. Out-of-range values are
// rejected, never clamped. The returned error is always a *ValidationError.
func Validate(raw []byte, now time.Time) (*Job, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, invalid("payload", "not a JSON object: %v", err)
	}

	for name := range fields {
		if !topLevelFields[name] {
			return nil, invalid(name, "unknown field")
		}
	}

	j := &Job{PaperWidth: DefaultPaperWidth}

	if raw, ok := fields["job_id"]; ok {
		if err := json.Unmarshal(raw, &j.JobID); err != nil {
			return nil, invalid("job_id", "must be a string")
		}
		if j.JobID == "" {
			return nil, invalid("job_id", "must not be empty")
		}
	} else {
		j.JobID = uuid.New().String()
	}

	prioRaw, ok := fields["priority"]
	if !ok {
		return nil, invalid("priority", "required field is missing")
	}
	if err := json.Unmarshal(prioRaw, &j.Priority); err != nil {
		return nil, invalid("priority", "must be an integer")
	}
	if j.Priority < MinPriority || j.Priority > MaxPriority {
		return nil, invalid("priority", "must be between %d and %d, got %d", MinPriority, MaxPriority, j.Priority)
	}

	if raw, ok := fields["paper_width"]; ok {
		if err := json.Unmarshal(raw, &j.PaperWidth); err != nil {
			return nil, invalid("paper_width", "must be an integer")
		}
		if j.PaperWidth != PaperWidth53 && j.PaperWidth != PaperWidth80 {
			return nil, invalid("paper_width", "must be %d or %d, got %d", PaperWidth53, PaperWidth80, j.PaperWidth)
		}
	}

	if raw, ok := fields["feed_after"]; ok {
		if err := json.Unmarshal(raw, &j.FeedAfter); err != nil {
			return nil, invalid("feed_after", "must be an integer")
		}
		if j.FeedAfter < 0 {
			return nil, invalid("feed_after", "must not be negative, got %d", j.FeedAfter)
		}
	}

	if raw, ok := fields["expires"]; ok {
		var seconds float64
		if err := json.Unmarshal(raw, &seconds); err != nil {
			return nil, invalid("expires", "must be a number of seconds")
		}
		if seconds <= 0 {
			return nil, invalid("expires", "must be positive, got %v", seconds)
		}
		deadline := now.Add(time.Duration(seconds * float64(time.Second)))
		j.ExpiresAt = &deadline
	}

	msgRaw, ok := fields["message"]
	if !ok {
		return nil, invalid("message", "required field is missing")
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(msgRaw, &elements); err != nil {
		return nil, invalid("message", "must be an array")
	}
	if len(elements) == 0 {
		return nil, invalid("message", "must contain at least one element")
	}

	j.Elements = make([]Element, 0, len(elements))
	for i, elemRaw := range elements {
		elem, err := validateElement(elemRaw, i)
		if err != nil {
			return nil, err
		}
		j.Elements = append(j.Elements, *elem)
	}

	return j, nil
}

func validateElement(raw json.RawMessage, index int) (*Element, error) {
	field := func(name string) string { return fmt.Sprintf("message[%d].%s", index, name) }

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, invalid(fmt.Sprintf("message[%d]", index), "must be an object")
	}

	var elemType ElementType
	typeRaw, ok := fields["type"]
	if !ok {
		return nil, invalid(field("type"), "required field is missing")
	}
	if err := json.Unmarshal(typeRaw, &elemType); err != nil {
		return nil, invalid(field("type"), "must be a string")
	}

	switch elemType {
	case ElementText:
		return validateText(fields, field)
	case ElementBarcode:
		return validateBarcode(fields, field)
	case ElementImage:
		return validateImage(fields, field)
	default:
		return nil, invalid(field("type"), "unknown element type %q", elemType)
	}
}

func validateText(fields map[string]json.RawMessage, field func(string) string) (*Element, error) {
	for name := range fields {
		if !textFields[name] {
			return nil, invalid(field(name), "not valid for text elements")
		}
	}

	t := &Text{Orientation: OrientationLeft, Font: FontA, Size: 1}

	if err := requireString(fields, "content", &t.Content, field); err != nil {
		return nil, err
	}
	if err := optionalOrientation(fields, "orientation", &t.Orientation, field); err != nil {
		return nil, err
	}
	for name, dst := range map[string]*bool{
		"bold": &t.Bold, "underline": &t.Underline,
		"italic": &t.Italic, "double_height": &t.DoubleHeight,
	} {
		if raw, ok := fields[name]; ok {
			if err := json.Unmarshal(raw, dst); err != nil {
				return nil, invalid(field(name), "must be a boolean")
			}
		}
	}
	if raw, ok := fields["font"]; ok {
		if err := json.Unmarshal(raw, &t.Font); err != nil {
			return nil, invalid(field("font"), "must be a string")
		}
		if t.Font != FontA && t.Font != FontB && t.Font != FontC {
			return nil, invalid(field("font"), "must be one of A, B, C, got %q", t.Font)
		}
	}
	if raw, ok := fields["size"]; ok {
		if err := json.Unmarshal(raw, &t.Size); err != nil {
			return nil, invalid(field("size"), "must be an integer")
		}
		if t.Size < 1 || t.Size > 8 {
			return nil, invalid(field("size"), "must be between 1 and 8, got %d", t.Size)
		}
	}

	return &Element{Type: ElementText, Text: t}, nil
}

func validateBarcode(fields map[string]json.RawMessage, field func(string) string) (*Element, error) {
	for name := range fields {
		if !barcodeFields[name] {
			return nil, invalid(field(name), "not valid for barcode elements")
		}
	}

	b := &Barcode{Alignment: OrientationLeft}

	if err := requireString(fields, "content", &b.Content, field); err != nil {
		return nil, err
	}

	kindRaw, ok := fields["barcode_type"]
	if !ok {
		return nil, invalid(field("barcode_type"), "required field is missing")
	}
	if err := json.Unmarshal(kindRaw, &b.Kind); err != nil {
		return nil, invalid(field("barcode_type"), "must be a string")
	}
	if !barcodeKinds[b.Kind] {
		return nil, invalid(field("barcode_type"), "unsupported barcode type %q", b.Kind)
	}

	if raw, ok := fields["height"]; ok {
		if err := json.Unmarshal(raw, &b.Height); err != nil {
			return nil, invalid(field("height"), "must be an integer")
		}
		if b.Height < 1 {
			return nil, invalid(field("height"), "must be positive, got %d", b.Height)
		}
	}
	if raw, ok := fields["width"]; ok {
		if err := json.Unmarshal(raw, &b.Width); err != nil {
			return nil, invalid(field("width"), "must be an integer")
		}
		if b.Width < 1 || b.Width > 20 {
			return nil, invalid(field("width"), "must be between 1 and 20, got %d", b.Width)
		}
	}
	if raw, ok := fields["eccLevel"]; ok {
		if b.Kind != BarcodeQR {
			return nil, invalid(field("eccLevel"), "only valid for qr-code barcodes")
		}
		ecc, err := parseECCLevel(raw)
		if err != nil {
			return nil, invalid(field("eccLevel"), "%v", err)
		}
		b.ECCLevel = ecc
	}
	for name, dst := range map[string]*int{
		"mode": &b.Mode, "textPosition": &b.TextPosition, "attribute": &b.Attribute,
	} {
		if raw, ok := fields[name]; ok {
			if err := json.Unmarshal(raw, dst); err != nil {
				return nil, invalid(field(name), "must be an integer")
			}
			if *dst < 0 {
				return nil, invalid(field(name), "must not be negative, got %d", *dst)
			}
		}
	}
	if err := optionalOrientation(fields, "alignment", &b.Alignment, field); err != nil {
		return nil, err
	}

	return &Element{Type: ElementBarcode, Barcode: b}, nil
}

func validateImage(fields map[string]json.RawMessage, field func(string) string) (*Element, error) {
	for name := range fields {
		if !imageFields[name] {
			return nil, invalid(field(name), "not valid for image elements")
		}
	}

	img := &Image{Orientation: OrientationLeft}

	var encoded string
	if err := requireString(fields, "content", &encoded, field); err != nil {
		return nil, err
	}
	// Data-URI prefixes are tolerated, only the base64 part is kept.
	if strings.HasPrefix(encoded, "data:") {
		if _, rest, ok := strings.Cut(encoded, ","); ok {
			encoded = rest
		}
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, invalid(field("content"), "must be valid base64: %v", err)
	}
	if len(decoded) == 0 {
		return nil, invalid(field("content"), "must not be empty")
	}
	img.Content = decoded

	if err := optionalOrientation(fields, "orientation", &img.Orientation, field); err != nil {
		return nil, err
	}
	if raw, ok := fields["nv_key"]; ok {
		var key int
		if err := json.Unmarshal(raw, &key); err != nil {
			return nil, invalid(field("nv_key"), "must be an integer")
		}
		if key < 0 || key > 255 {
			return nil, invalid(field("nv_key"), "must be between 0 and 255, got %d", key)
		}
		img.NVKey = &key
	}

	return &Element{Type: ElementImage, Image: img}, nil
}

// parseECCLevel accepts either an integer or a single-character level
// such as "L"; characters are taken by their ASCII code, matching the
// vendor library's convention.
func parseECCLevel(raw json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("must not be negative, got %d", n)
		}
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if len(s) != 1 {
			return 0, fmt.Errorf("string form must be a single character, got %q", s)
		}
		return int(s[0]), nil
	}
	return 0, fmt.Errorf("must be an integer or a single-character string")
}

func requireString(fields map[string]json.RawMessage, name string, dst *string, field func(string) string) error {
	raw, ok := fields[name]
	if !ok {
		return invalid(field(name), "required field is missing")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalid(field(name), "must be a string")
	}
	if *dst == "" {
		return invalid(field(name), "must not be empty")
	}
	return nil
}

func optionalOrientation(fields map[string]json.RawMessage, name string, dst *Orientation, field func(string) string) error {
	raw, ok := fields[name]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalid(field(name), "must be a string")
	}
	switch *dst {
	case OrientationLeft, OrientationCenter, OrientationRight:
		return nil
	default:
		return invalid(field(name), "must be left, center or right, got %q", *dst)
	}
}
