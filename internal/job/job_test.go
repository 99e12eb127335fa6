package job

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobEncodeDecodeRoundTrip(t *testing.T) {
	nvKey := 12
	deadline := time.Now().Add(time.Minute).UTC().Truncate(time.Second)

	original := &Job{
		JobID:       "job-rt",
		Priority:    3,
		PaperWidth:  PaperWidth53,
		FeedAfter:   2,
		ExpiresAt:   &deadline,
		SubmittedAt: time.Now().UTC().Truncate(time.Second),
		Elements: []Element{
			{Type: ElementText, Text: &Text{
				Content:      "TOTAL: 12.50",
				Orientation:  OrientationRight,
				Bold:         true,
				DoubleHeight: true,
				Font:         FontB,
				Size:         2,
			}},
			{Type: ElementBarcode, Barcode: &Barcode{
				Content:   "https://example.com/r/991",
				Kind:      BarcodeQR,
				ECCLevel:  int('M'),
				Alignment: OrientationCenter,
			}},
			{Type: ElementImage, Image: &Image{
				Content:     []byte{0x01, 0x02, 0x03},
				Orientation: OrientationLeft,
				NVKey:       &nvKey,
			}},
		},
	}

	payload, err := original.Encode()
	require.NoError(t, err)

	decoded, err := Decode(payload)
	require.NoError(t, err)

	assert.Equal(t, original.JobID, decoded.JobID)
	assert.Equal(t, original.Priority, decoded.Priority)
	assert.Equal(t, original.PaperWidth, decoded.PaperWidth)
	assert.Equal(t, original.FeedAfter, decoded.FeedAfter)
	require.NotNil(t, decoded.ExpiresAt)
	assert.True(t, original.ExpiresAt.Equal(*decoded.ExpiresAt))

	require.Len(t, decoded.Elements, 3)

	text := decoded.Elements[0].Text
	require.NotNil(t, text)
	assert.Equal(t, *original.Elements[0].Text, *text)

	barcode := decoded.Elements[1].Barcode
	require.NotNil(t, barcode)
	assert.Equal(t, *original.Elements[1].Barcode, *barcode)

	img := decoded.Elements[2].Image
	require.NotNil(t, img)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, img.Content)
	require.NotNil(t, img.NVKey)
	assert.Equal(t, 12, *img.NVKey)
}

func TestElementWireShape(t *testing.T) {
	el := Element{Type: ElementText, Text: &Text{
		Content:     "hello",
		Orientation: OrientationLeft,
		Font:        FontA,
		Size:        1,
	}}

	data, err := json.Marshal(el)
	require.NoError(t, err)

	// The union flattens: the variant's fields sit beside the tag.
	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, "text", flat["type"])
	assert.Equal(t, "hello", flat["content"])
}

func TestElementMarshalUnknownType(t *testing.T) {
	el := Element{Type: ElementType("ticket")}
	_, err := json.Marshal(el)
	require.Error(t, err)
}

func TestElementUnmarshalUnknownTag(t *testing.T) {
	var el Element
	err := json.Unmarshal([]byte(`{"type": "hologram", "content": "x"}`), &el)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hologram")
}

func TestDecodeCorruptPayload(t *testing.T) {
	j, err := Decode([]byte("{definitely not json"))
	require.Error(t, err)
	assert.Nil(t, j)
}

func TestJobExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	tests := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{name: "no deadline never expires", expiresAt: nil, want: false},
		{name: "future deadline", expiresAt: &future, want: false},
		{name: "past deadline", expiresAt: &past, want: true},
		{name: "deadline exactly now", expiresAt: &now, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &Job{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, j.Expired(now))
		})
	}
}
