package panel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultGaugeShape(t *testing.T) {
	data, err := json.Marshal(DefaultGauge())
	require.NoError(t, err)

	var raw map[string][]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	series := raw["series"][0]
	require.Equal(t, "gauge", series["type"])
	require.Equal(t, float64(1000), series["max"])
	require.Equal(t, float64(10), series["splitNumber"])

	colors := series["axisLine"].(map[string]interface{})["lineStyle"].(map[string]interface{})["color"]
	require.Equal(t, []interface{}{
		[]interface{}{0.09, "lime"},
		[]interface{}{0.82, "#1e90ff"},
		[]interface{}{float64(1), "#ff4500"},
	}, colors)
}

func TestGaugeOptionRoundTripsBands(t *testing.T) {
	data, err := json.Marshal(DefaultGauge().WithValue(314))
	require.NoError(t, err)

	var back GaugeOption
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, float64(314), back.Value())
	require.Len(t, back.Series[0].AxisLine.LineStyle.Color, 3)
}

func TestGaugeBandColor(t *testing.T) {
	g := DefaultGauge()
	require.Equal(t, "lime", g.WithValue(50).BandColor())
	require.Equal(t, "#1e90ff", g.WithValue(500).BandColor())
	require.Equal(t, "#ff4500", g.WithValue(900).BandColor())
	require.Equal(t, "#ff4500", g.WithValue(5000).BandColor())
	require.Equal(t, float64(1), g.WithValue(5000).Fraction())
	require.Equal(t, float64(5000), g.WithValue(5000).Value())
}

func TestWithValueDoesNotMutateOriginal(t *testing.T) {
	g := DefaultGauge()
	_ = g.WithValue(99)
	require.Equal(t, float64(0), g.Value())
}
