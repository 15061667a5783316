package panel

import (
	"encoding/json"
	"fmt"
)

// Gauge bounds shared by every rendition of the panel.
const (
	GaugeMin = 0
	GaugeMax = 1000
)

// GaugeOption mirrors the chart option object the browser panel hands to
// its charting widget. Only the fields the panel sets are modelled.
type GaugeOption struct {
	Series []GaugeSeries `json:"series"`
}

type GaugeSeries struct {
	Name        string       `json:"name"`
	Type        string       `json:"type"`
	Min         float64      `json:"min"`
	Max         float64      `json:"max"`
	SplitNumber int          `json:"splitNumber"`
	Data        []GaugePoint `json:"data"`
	AxisLine    AxisLine     `json:"axisLine"`
	AxisLabel   TextBlock    `json:"axisLabel"`
	AxisTick    MarkLine     `json:"axisTick"`
	SplitLine   MarkLine     `json:"splitLine"`
	Title       TextBlock    `json:"title"`
	Detail      Detail       `json:"detail"`
}

type GaugePoint struct {
	Value float64 `json:"value"`
	Name  string  `json:"name"`
}

// Band is one colored stop of the gauge axis: Stop is the fraction of the
// range where the color ends.
type Band struct {
	Stop  float64
	Color string
}

// MarshalJSON renders a band as the [stop, color] pair the chart expects.
func (b Band) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{b.Stop, b.Color})
}

func (b *Band) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("gauge band %s: want [stop, color]", data)
	}
	if err := json.Unmarshal(pair[0], &b.Stop); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &b.Color)
}

type AxisLine struct {
	LineStyle AxisLineStyle `json:"lineStyle"`
}

type AxisLineStyle struct {
	Color      []Band `json:"color"`
	Width      int    `json:"width"`
	ShadowBlur int    `json:"shadowBlur"`
}

type TextStyle struct {
	FontSize   int    `json:"fontSize,omitempty"`
	FontWeight string `json:"fontWeight,omitempty"`
}

type TextBlock struct {
	TextStyle TextStyle `json:"textStyle"`
}

type MarkLine struct {
	Length    int       `json:"length"`
	LineStyle LineColor `json:"lineStyle"`
}

type LineColor struct {
	Color string `json:"color"`
}

type Detail struct {
	Formatter string    `json:"formatter"`
	TextStyle TextStyle `json:"textStyle"`
}

// DefaultGauge returns the fixed write performance gauge at value zero.
func DefaultGauge() GaugeOption {
	return GaugeOption{
		Series: []GaugeSeries{{
			Name:        "Write Performance",
			Type:        "gauge",
			Min:         GaugeMin,
			Max:         GaugeMax,
			SplitNumber: 10,
			Data:        []GaugePoint{{Value: 0, Name: "MB/s"}},
			AxisLine: AxisLine{LineStyle: AxisLineStyle{
				Color: []Band{
					{Stop: 0.09, Color: "lime"},
					{Stop: 0.82, Color: "#1e90ff"},
					{Stop: 1, Color: "#ff4500"},
				},
				Width:      3,
				ShadowBlur: 10,
			}},
			AxisLabel: TextBlock{TextStyle: TextStyle{FontSize: 8}},
			AxisTick:  MarkLine{Length: 10, LineStyle: LineColor{Color: "auto"}},
			SplitLine: MarkLine{Length: 20, LineStyle: LineColor{Color: "auto"}},
			Title:     TextBlock{TextStyle: TextStyle{FontSize: 10}},
			Detail: Detail{
				Formatter: "{value}",
				TextStyle: TextStyle{FontWeight: "bolder", FontSize: 10},
			},
		}},
	}
}

// Value reports the gauge reading.
func (o GaugeOption) Value() float64 {
	if len(o.Series) == 0 || len(o.Series[0].Data) == 0 {
		return 0
	}
	return o.Series[0].Data[0].Value
}

// WithValue returns a copy of the option with the reading replaced.
func (o GaugeOption) WithValue(v float64) GaugeOption {
	out := GaugeOption{Series: make([]GaugeSeries, len(o.Series))}
	copy(out.Series, o.Series)
	if len(out.Series) == 0 {
		return out
	}
	data := make([]GaugePoint, len(out.Series[0].Data))
	copy(data, out.Series[0].Data)
	if len(data) == 0 {
		data = append(data, GaugePoint{Name: "MB/s"})
	}
	data[0].Value = v
	out.Series[0].Data = data
	return out
}

// Fraction maps the reading onto [0,1] of the gauge range for rendering.
func (o GaugeOption) Fraction() float64 {
	if len(o.Series) == 0 {
		return 0
	}
	s := o.Series[0]
	span := s.Max - s.Min
	if span <= 0 {
		return 0
	}
	f := (o.Value() - s.Min) / span
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// BandColor returns the axis color for the current reading.
func (o GaugeOption) BandColor() string {
	if len(o.Series) == 0 {
		return ""
	}
	f := o.Fraction()
	bands := o.Series[0].AxisLine.LineStyle.Color
	for _, b := range bands {
		if f <= b.Stop {
			return b.Color
		}
	}
	if len(bands) > 0 {
		return bands[len(bands)-1].Color
	}
	return ""
}
