package throughput

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// DefaultPattern matches figures such as "12.5 MB/s" or "980 kB/s" as
// printed by dd and similar tools.
var DefaultPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*([kmgt]?i?b)/s`)

var unitScale = map[string]float64{
	"b":   1e-6,
	"kb":  1e-3,
	"mb":  1,
	"gb":  1e3,
	"tb":  1e6,
	"kib": 1024.0 / bytesPerMB,
	"mib": 1024.0 * 1024 / bytesPerMB,
	"gib": 1024.0 * 1024 * 1024 / bytesPerMB,
	"tib": 1024.0 * 1024 * 1024 * 1024 / bytesPerMB,
}

// PatternRate keeps the last rate figure seen in console output. Output is
// scanned line by line; a partial line is kept until its newline arrives,
// except that carriage returns also end a line for progress displays.
type PatternRate struct {
	re     *regexp.Regexp
	custom bool

	mu      sync.Mutex
	partial string
	rate    float64
	seen    bool
}

// NewPatternRate uses pattern, whose first group is a figure in MB/s. An
// empty pattern selects DefaultPattern with unit conversion.
func NewPatternRate(pattern string) (*PatternRate, error) {
	if pattern == "" {
		return &PatternRate{re: DefaultPattern}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile rate pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("rate pattern %q has no capture group", pattern)
	}
	return &PatternRate{re: re, custom: true}, nil
}

// Observe scans text for rate figures.
func (p *PatternRate) Observe(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := p.partial + text
	last := strings.LastIndexAny(buf, "\r\n")
	if last < 0 {
		p.partial = buf
		return
	}
	p.partial = buf[last+1:]
	for _, line := range strings.FieldsFunc(buf[:last], func(r rune) bool { return r == '\n' || r == '\r' }) {
		if v, ok := p.parse(line); ok {
			p.rate = v
			p.seen = true
		}
	}
}

func (p *PatternRate) parse(line string) (float64, bool) {
	matches := p.re.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return 0, false
	}
	m := matches[len(matches)-1]
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if p.custom {
		return v, true
	}
	scale, ok := unitScale[strings.ToLower(m[2])]
	if !ok {
		return 0, false
	}
	return v * scale, true
}

// Rate is the last figure seen, in MB/s.
func (p *PatternRate) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

// Seen reports whether any figure matched yet.
func (p *PatternRate) Seen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen
}
