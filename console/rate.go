package console

import (
	"time"

	"go.uber.org/zap"

	"github.com/donomii/qospanel/qos"
	"github.com/donomii/qospanel/throughput"
)

// rateSource supplies the gauge value for each flush.
type rateSource interface {
	observe(text string)
	rate(now time.Time) float64
}

func newRateSource(w qos.Workload, log *zap.SugaredLogger) (rateSource, error) {
	if w.RateFile != "" {
		m := throughput.NewMeter(throughput.FileSize(w.RateFile))
		if _, err := m.Sample(time.Now()); err != nil {
			log.Warnf("Initial sample of %s failed: %v", w.RateFile, err)
		}
		return &meterSource{meter: m, path: w.RateFile, log: log}, nil
	}
	p, err := throughput.NewPatternRate(w.RatePattern)
	if err != nil {
		return nil, err
	}
	return patternSource{p}, nil
}

type meterSource struct {
	meter *throughput.Meter
	path  string
	log   *zap.SugaredLogger
}

func (m *meterSource) observe(string) {}

func (m *meterSource) rate(now time.Time) float64 {
	r, err := m.meter.Sample(now)
	if err != nil {
		m.log.Debugf("Sampling %s: %v", m.path, err)
	}
	return r
}

type patternSource struct {
	p *throughput.PatternRate
}

func (s patternSource) observe(text string)      { s.p.Observe(text) }
func (s patternSource) rate(time.Time) float64 { return s.p.Rate() }
