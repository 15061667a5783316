// Package throughput measures write rate for the panel gauge, in MB/s with
// MB = 10^6 bytes.
package throughput

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const bytesPerMB = 1e6

// Probe reports a monotonically growing byte count, e.g. a file size.
type Probe func() (int64, error)

// FileSize probes the size of a file, or the total size of the regular files
// under a directory. A missing path counts as zero bytes.
func FileSize(path string) Probe {
	return func() (int64, error) {
		st, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		if !st.IsDir() {
			return st.Size(), nil
		}
		var total int64
		err = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				// Files vanish while a workload runs.
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			total += info.Size()
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("walk %s: %w", path, err)
		}
		return total, nil
	}
}

// Meter turns successive probe samples into a rate.
type Meter struct {
	probe Probe

	mu      sync.Mutex
	sampled bool
	last    int64
	lastAt  time.Time
	rate    float64
}

// NewMeter returns a meter over probe.
func NewMeter(probe Probe) *Meter {
	return &Meter{probe: probe}
}

// Sample probes at now and returns the rate since the previous sample. The
// first sample only sets the baseline. A shrinking count yields zero.
func (m *Meter) Sample(now time.Time) (float64, error) {
	n, err := m.probe()
	if err != nil {
		return m.Rate(), err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sampled {
		elapsed := now.Sub(m.lastAt).Seconds()
		delta := n - m.last
		switch {
		case delta <= 0:
			m.rate = 0
		case elapsed > 0:
			m.rate = float64(delta) / bytesPerMB / elapsed
		}
	}
	m.sampled = true
	m.last = n
	m.lastAt = now
	return m.rate, nil
}

// Rate is the rate computed by the last sample.
func (m *Meter) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate
}
