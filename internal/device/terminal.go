package device

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mdp/qrterminal/v3"

	"github.com/posprint/bridge/internal/job"
)

// Printable columns per paper width.
const (
	columns53 = 32
	columns80 = 48
)

// Terminal renders jobs to a console instead of a physical printer. QR
// barcodes are drawn as real scannable codes; 1D barcodes and images
// become placeholders. Useful for development and demos without
// hardware. Not safe for concurrent calls; wrap it in a Gate like any
// other driver.
type Terminal struct {
	out io.Writer
}

// NewTerminal creates a console driver writing to out.
func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{out: out}
}

func (t *Terminal) Print(_ context.Context, j *job.Job) error {
	cols := columns80
	if j.PaperWidth == job.PaperWidth53 {
		cols = columns53
	}

	for i, el := range j.Elements {
		switch el.Type {
		case job.ElementText:
			t.writeText(el.Text, cols)
		case job.ElementBarcode:
			t.writeBarcode(el.Barcode)
		case job.ElementImage:
			fmt.Fprintf(t.out, "%s\n", align(fmt.Sprintf("[image: %d bytes]", len(el.Image.Content)), el.Image.Orientation, cols))
		default:
			return fmt.Errorf("element %d: unknown type %q", i, el.Type)
		}
	}

	for n := 0; n < j.FeedAfter; n++ {
		fmt.Fprintln(t.out)
	}
	fmt.Fprintf(t.out, "%s\n", strings.Repeat("-", cols))

	return nil
}

// Status always reports healthy; there is no hardware to probe.
func (t *Terminal) Status() (int, error) {
	return 0, nil
}

func (t *Terminal) writeText(el *job.Text, cols int) {
	content := el.Content
	if el.Bold {
		content = strings.ToUpper(content)
	}
	fmt.Fprintf(t.out, "%s\n", align(content, el.Orientation, cols))
	if el.DoubleHeight {
		fmt.Fprintf(t.out, "%s\n", align(content, el.Orientation, cols))
	}
}

func (t *Terminal) writeBarcode(el *job.Barcode) {
	if el.Kind == job.BarcodeQR {
		qrterminal.GenerateHalfBlock(el.Content, qrterminal.L, t.out)
		return
	}
	fmt.Fprintf(t.out, "||%s|| (%s)\n", el.Content, el.Kind)
}

func align(s string, o job.Orientation, cols int) string {
	if len(s) >= cols {
		return s
	}
	switch o {
	case job.OrientationCenter:
		return strings.Repeat(" ", (cols-len(s))/2) + s
	case job.OrientationRight:
		return strings.Repeat(" ", cols-len(s)) + s
	default:
		return s
	}
}
