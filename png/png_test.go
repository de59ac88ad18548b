package png

import (
	"bytes"
	imgpng "image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQr(t *testing.T) {
	data, err := Qr("https://qr-test.ksef.mf.gov.pl/client-app/invoice/5265877635/26-08-2025/abc")
	require.NoError(t, err)

	img, err := imgpng.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, img.Bounds().Dx())
	assert.Equal(t, DefaultSize, img.Bounds().Dy())
}

func TestQr_Empty(t *testing.T) {
	_, err := Qr("")
	assert.Error(t, err)
}
