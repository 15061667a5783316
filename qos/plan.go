package qos

import (
	"errors"
	"fmt"
	"strings"
)

// Proc paths of the ost_io NRS controls.
const (
	PoliciesPath = "/proc/fs/lustre/ost/OSS/ost_io/nrs_policies"
	RulePath     = "/proc/fs/lustre/ost/OSS/ost_io/nrs_tbf_rule"
)

// ErrNoMGS means no detected host runs the MGS.
var ErrNoMGS = errors.New("no MGS host found")

// Step is one command on one host.
type Step struct {
	Host        string `json:"host"`
	Command     string `json:"command"`
	Description string `json:"description"`
}

func (s Step) String() string {
	return fmt.Sprintf("[%s] %s", s.Host, s.Command)
}

// EnableTBFCommand switches ost_io to the TBF policy of the given type.
func EnableTBFCommand(tbfType string) string {
	return fmt.Sprintf("echo -n tbf %s > %s", tbfType, PoliciesPath)
}

// EnableFIFOCommand switches ost_io back to fifo.
func EnableFIFOCommand() string {
	return fmt.Sprintf("echo -n fifo > %s", PoliciesPath)
}

// SetJobIDVarCommand is run on the MGS.
func SetJobIDVarCommand(fsname, jobIDVar string) string {
	return fmt.Sprintf("lctl conf_param %s.sys.jobid_var=%s", fsname, jobIDVar)
}

// StartRuleCommand starts a rule, in the syntax of the given release.
func StartRuleCommand(v Version, name, expression string, rate int) string {
	if v.NewRuleSyntax() {
		return fmt.Sprintf("echo -n start %s jobid={%s} rate=%d > %s", name, expression, rate, RulePath)
	}
	return fmt.Sprintf("echo -n start %s {%s} %d > %s", name, expression, rate, RulePath)
}

// ChangeRateCommand changes the rate of a running rule.
func ChangeRateCommand(v Version, name string, rate int) string {
	if v.NewRuleSyntax() {
		return fmt.Sprintf("echo -n change %s rate=%d > %s", name, rate, RulePath)
	}
	return fmt.Sprintf("echo -n change %s %d > %s", name, rate, RulePath)
}

// Plan lists the commands that enable TBF on every OST host, set the job id
// variable on the MGS and start each rule on every OST host.
func Plan(cfg Config, devices []Device, v Version) ([]Step, error) {
	rules, err := RulesFromConfig(cfg.Rules)
	if err != nil {
		return nil, err
	}
	ostHosts := OSTHosts(devices)
	mgsHosts := MGSHosts(devices)
	if len(mgsHosts) == 0 {
		return nil, fmt.Errorf("%w for cluster [%s]", ErrNoMGS, cfg.Fsname)
	}

	var steps []Step
	for _, host := range ostHosts {
		steps = append(steps, Step{
			Host:        host,
			Command:     EnableTBFCommand(cfg.TBFType),
			Description: "enable TBF " + cfg.TBFType + " for ost_io",
		})
	}
	for _, host := range mgsHosts {
		steps = append(steps, Step{
			Host:        host,
			Command:     SetJobIDVarCommand(cfg.Fsname, cfg.JobIDVar),
			Description: "set jobid_var to " + cfg.JobIDVar,
		})
	}
	for _, r := range rules.All() {
		for _, host := range ostHosts {
			steps = append(steps, Step{
				Host:        host,
				Command:     StartRuleCommand(v, r.Name, r.Expression, r.Rate),
				Description: fmt.Sprintf("start TBF rule %s at %d RPC/s", r.Name, r.Rate),
			})
		}
	}
	return steps, nil
}

// RestorePlan switches every OST host back to fifo.
func RestorePlan(devices []Device) []Step {
	var steps []Step
	for _, host := range OSTHosts(devices) {
		steps = append(steps, Step{Host: host, Command: EnableFIFOCommand(), Description: "restore fifo for ost_io"})
	}
	return steps
}

// FormatPlan renders steps one per line.
func FormatPlan(steps []Step) string {
	var sb strings.Builder
	for _, s := range steps {
		sb.WriteString(s.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
