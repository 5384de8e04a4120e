package imagehelper

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))

	format, err := IsImage(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "png", format)

	_, err = IsImage(bytes.NewReader([]byte("GIF89a not supported")))
	assert.ErrorIs(t, err, ErrUnsupportedImage)

	_, err = IsImage(bytes.NewReader([]byte{0xFF, 0xD8, 0x00}))
	assert.Error(t, err)
}
