// Package qos models the Lustre TBF (token bucket filter) QoS setup driven
// from the dashboard: the configuration the page sends, device detection,
// the command plan that enables TBF and starts rules, and the runner that
// executes it followed by a workload.
package qos

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Defaults applied by Normalize.
const (
	DefaultTBFType        = "jobid"
	DefaultJobIDVar       = "procname_uid"
	DefaultSampleInterval = time.Second
	MinSampleInterval     = 50 * time.Millisecond
)

var validTBFTypes = map[string]bool{"jobid": true, "nid": true, "opcode": true, "uid": true, "gid": true}

// Config is the application configuration object sent by the panel when the
// console socket opens.
type Config struct {
	Fsname          string   `yaml:"fsname" json:"fsname"`
	Servers         []string `yaml:"servers" json:"servers"`
	SSHIdentityFile string   `yaml:"ssh_identity_file,omitempty" json:"ssh_identity_file,omitempty"`
	TBFType         string   `yaml:"tbf_type" json:"tbf_type"`
	JobIDVar        string   `yaml:"jobid_var" json:"jobid_var"`
	// LustreVersion skips version detection when set.
	LustreVersion string   `yaml:"lustre_version,omitempty" json:"lustre_version,omitempty"`
	Rules         []Rule   `yaml:"rules" json:"rules"`
	Workload      Workload `yaml:"workload" json:"workload"`
	DryRun        bool     `yaml:"dry_run" json:"dry_run"`
	// RestoreFIFO switches ost_io back to the fifo policy when the workload ends.
	RestoreFIFO bool `yaml:"restore_fifo" json:"restore_fifo"`
}

// Rule is one TBF rule. Expression is the job id match, e.g. "dd.0".
type Rule struct {
	Name       string `yaml:"name" json:"name"`
	Expression string `yaml:"expression" json:"expression"`
	Rate       int    `yaml:"rate" json:"rate"`
}

// Workload is what runs once the rules are in place. Command and Follow are
// mutually exclusive; neither means the session ends after the plan.
type Workload struct {
	Command          string `yaml:"command,omitempty" json:"command,omitempty"`
	Follow           string `yaml:"follow,omitempty" json:"follow,omitempty"`
	TimeoutSeconds   int    `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	RateFile         string `yaml:"rate_file,omitempty" json:"rate_file,omitempty"`
	RatePattern      string `yaml:"rate_pattern,omitempty" json:"rate_pattern,omitempty"`
	SampleIntervalMS int    `yaml:"sample_interval_ms,omitempty" json:"sample_interval_ms,omitempty"`
}

// DecodeConfig parses the JSON object sent on open, applies defaults and
// validates it.
func DecodeConfig(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize fills in defaults and trims whitespace.
func (c *Config) Normalize() {
	c.Fsname = strings.TrimSpace(c.Fsname)
	if c.TBFType == "" {
		c.TBFType = DefaultTBFType
	}
	if c.JobIDVar == "" {
		c.JobIDVar = DefaultJobIDVar
	}
	servers := c.Servers[:0]
	for _, s := range c.Servers {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	c.Servers = servers
}

// Validate reports every problem at once, joined under ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error
	if len(c.Servers) > 0 && c.Fsname == "" {
		errs = append(errs, errors.New("fsname is required when servers are set"))
	}
	if c.Fsname != "" && !fsnamePattern.MatchString(c.Fsname) {
		errs = append(errs, fmt.Errorf("fsname %q must be 1-8 letters, digits or underscores", c.Fsname))
	}
	if !validTBFTypes[c.TBFType] {
		errs = append(errs, fmt.Errorf("unknown tbf_type %q", c.TBFType))
	}
	if c.LustreVersion != "" {
		if _, err := ParseVersion(c.LustreVersion); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := RulesFromConfig(c.Rules); err != nil {
		errs = append(errs, err)
	}
	for _, r := range c.Rules {
		if r.Rate <= 0 {
			errs = append(errs, fmt.Errorf("rule %q: rate must be positive", r.Name))
		}
		if strings.TrimSpace(r.Expression) == "" {
			errs = append(errs, fmt.Errorf("rule %q: expression is required", r.Name))
		}
	}
	w := c.Workload
	if w.Command != "" && w.Follow != "" {
		errs = append(errs, errors.New("workload: command and follow are mutually exclusive"))
	}
	if w.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("workload: timeout_seconds must not be negative"))
	}
	if w.SampleIntervalMS < 0 {
		errs = append(errs, errors.New("workload: sample_interval_ms must not be negative"))
	}
	if w.RatePattern != "" {
		if re, err := regexp.Compile(w.RatePattern); err != nil {
			errs = append(errs, fmt.Errorf("workload: rate_pattern: %v", err))
		} else if re.NumSubexp() < 1 {
			errs = append(errs, errors.New("workload: rate_pattern needs a capture group"))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// ErrUntrustedConfig is returned by MatchTrusted.
var ErrUntrustedConfig = fmt.Errorf("%w: does not match the service configuration", ErrInvalidConfig)

// MatchTrusted checks that every field which reaches a shell or ssh equals
// the trusted configuration. Only DryRun and RestoreFIFO may differ. Both
// configurations must be normalized.
func (c Config) MatchTrusted(trusted Config) error {
	var fields []string
	if c.Fsname != trusted.Fsname {
		fields = append(fields, "fsname")
	}
	if !slices.Equal(c.Servers, trusted.Servers) {
		fields = append(fields, "servers")
	}
	if c.SSHIdentityFile != trusted.SSHIdentityFile {
		fields = append(fields, "ssh_identity_file")
	}
	if c.TBFType != trusted.TBFType {
		fields = append(fields, "tbf_type")
	}
	if c.JobIDVar != trusted.JobIDVar {
		fields = append(fields, "jobid_var")
	}
	if c.LustreVersion != trusted.LustreVersion {
		fields = append(fields, "lustre_version")
	}
	if !slices.Equal(c.Rules, trusted.Rules) {
		fields = append(fields, "rules")
	}
	if c.Workload != trusted.Workload {
		fields = append(fields, "workload")
	}
	if len(fields) == 0 {
		return nil
	}
	return fmt.Errorf("%w (%s)", ErrUntrustedConfig, strings.Join(fields, ", "))
}

// Clone returns a copy that shares no slices with c.
func (c Config) Clone() Config {
	c.Servers = slices.Clone(c.Servers)
	c.Rules = slices.Clone(c.Rules)
	return c
}

var fsnamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,8}$`)

// Timeout is the workload command timeout; zero means none.
func (w Workload) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// SampleInterval is how often the console flushes and the rate is sampled.
func (w Workload) SampleInterval() time.Duration {
	if w.SampleIntervalMS == 0 {
		return DefaultSampleInterval
	}
	d := time.Duration(w.SampleIntervalMS) * time.Millisecond
	if d < MinSampleInterval {
		return MinSampleInterval
	}
	return d
}
