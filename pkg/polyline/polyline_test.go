package polyline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/pkg/polyline"
)

func TestDecode_GoogleExample(t *testing.T) {
	points, err := polyline.Decode("_p~iF~ps|U_ulLnnqC_mqNvxq`@")
	require.NoError(t, err)
	require.Len(t, points, 3)

	want := []polyline.Point{
		{Lat: 38.5, Lon: -120.2},
		{Lat: 40.7, Lon: -120.95},
		{Lat: 43.252, Lon: -126.453},
	}
	for i, p := range points {
		assert.InDelta(t, want[i].Lat, p.Lat, 1e-5, "lat %d", i)
		assert.InDelta(t, want[i].Lon, p.Lon, 1e-5, "lon %d", i)
	}
}

func TestDecode_Empty(t *testing.T) {
	points, err := polyline.Decode("")
	require.NoError(t, err)
	assert.Nil(t, points)
}

func TestDecode_Malformed(t *testing.T) {
	for _, encoded := range []string{
		"_p~iF",       // latitude without longitude
		"_p~iF~ps|",   // truncated longitude
		"_p~iF~ps|U ", // byte below the alphabet
	} {
		_, err := polyline.Decode(encoded)
		assert.ErrorIs(t, err, polyline.ErrMalformed, encoded)
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	points := []polyline.Point{
		{Lat: 51.50735, Lon: -0.12776},
		{Lat: 51.50812, Lon: -0.12601},
		{Lat: 51.51030, Lon: -0.12000},
	}

	decoded, err := polyline.Decode(polyline.Encode(points))
	require.NoError(t, err)
	require.Len(t, decoded, len(points))
	for i := range points {
		assert.InDelta(t, points[i].Lat, decoded[i].Lat, 1e-5)
		assert.InDelta(t, points[i].Lon, decoded[i].Lon, 1e-5)
	}
}

func TestLength(t *testing.T) {
	assert.Zero(t, polyline.Length(nil))
	assert.Zero(t, polyline.Length([]polyline.Point{{Lat: 1, Lon: 1}}))

	// One degree of latitude is roughly 111.19 km.
	meters := polyline.Length([]polyline.Point{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 0}})
	assert.InDelta(t, 111195, meters, 10)
}

func TestLengthKm(t *testing.T) {
	encoded := polyline.Encode([]polyline.Point{{Lat: 0, Lon: 0}, {Lat: 0.01, Lon: 0}})

	km, err := polyline.LengthKm(encoded)
	require.NoError(t, err)
	assert.InDelta(t, 1.112, km, 0.001)

	_, err = polyline.LengthKm("_p~iF")
	assert.Error(t, err)
}
