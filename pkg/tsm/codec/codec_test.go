package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tskvio/tskv/pkg/models"
)

func TestRoundTripEachCodec(t *testing.T) {
	ts := []int64{100, 205, 400, 4000}
	vals := []float64{1.1, -2.2, 3.3, 4.4}

	for _, enc := range []models.Encoding{
		models.EncodingDefault,
		models.EncodingDeltaZigzag,
		models.EncodingSnappy,
		models.EncodingZstd,
		models.EncodingGorilla,
	} {
		payload, err := Encode(enc, ts, vals)
		require.NoError(t, err)

		gotTS, gotVals, err := Decode(payload)
		require.NoError(t, err, "encoding %v", enc)
		require.Equal(t, ts, gotTS, "encoding %v", enc)
		require.InDeltaSlice(t, vals, gotVals, 1e-9, "encoding %v", enc)
	}
}
