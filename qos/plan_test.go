package qos

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var planDevices = []Device{
	{Type: DeviceMGS, Index: "0", Host: "mds1"},
	{Type: DeviceMDT, Index: "0000", Host: "mds1"},
	{Type: DeviceOST, Index: "0000", Host: "oss1"},
	{Type: DeviceOST, Index: "0001", Host: "oss1"},
	{Type: DeviceOST, Index: "0002", Host: "oss2"},
}

func planConfig() Config {
	cfg := Config{
		Fsname:  "lustre",
		Servers: []string{"mds1", "oss1", "oss2"},
		Rules:   []Rule{{Name: "dd.0", Expression: "dd.0", Rate: 100}},
	}
	cfg.Normalize()
	return cfg
}

func TestPlanNewSyntax(t *testing.T) {
	steps, err := Plan(planConfig(), planDevices, Version{Major: 2, Minor: 10, Patch: 0})
	require.NoError(t, err)

	var got []string
	for _, s := range steps {
		got = append(got, s.String())
	}
	require.Equal(t, []string{
		"[oss1] echo -n tbf jobid > /proc/fs/lustre/ost/OSS/ost_io/nrs_policies",
		"[oss2] echo -n tbf jobid > /proc/fs/lustre/ost/OSS/ost_io/nrs_policies",
		"[mds1] lctl conf_param lustre.sys.jobid_var=procname_uid",
		"[oss1] echo -n start dd_0 jobid={dd.0} rate=100 > /proc/fs/lustre/ost/OSS/ost_io/nrs_tbf_rule",
		"[oss2] echo -n start dd_0 jobid={dd.0} rate=100 > /proc/fs/lustre/ost/OSS/ost_io/nrs_tbf_rule",
	}, got)
}

func TestPlanOldSyntax(t *testing.T) {
	steps, err := Plan(planConfig(), planDevices, Version{Major: 2, Minor: 8, Patch: 53})
	require.NoError(t, err)
	require.Equal(t, "echo -n start dd_0 {dd.0} 100 > /proc/fs/lustre/ost/OSS/ost_io/nrs_tbf_rule", steps[len(steps)-1].Command)
}

func TestPlanWithoutMGS(t *testing.T) {
	_, err := Plan(planConfig(), planDevices[2:], Version{Major: 2, Minor: 10})
	require.ErrorIs(t, err, ErrNoMGS)
}

func TestChangeRateCommand(t *testing.T) {
	require.Equal(t, "echo -n change r rate=5 > /proc/fs/lustre/ost/OSS/ost_io/nrs_tbf_rule",
		ChangeRateCommand(Version{Major: 2, Minor: 9}, "r", 5))
	require.Equal(t, "echo -n change r 5 > /proc/fs/lustre/ost/OSS/ost_io/nrs_tbf_rule",
		ChangeRateCommand(Version{Major: 2, Minor: 7}, "r", 5))
}

func TestRestorePlan(t *testing.T) {
	steps := RestorePlan(planDevices)
	require.Len(t, steps, 2)
	require.Equal(t, "[oss2] echo -n fifo > /proc/fs/lustre/ost/OSS/ost_io/nrs_policies", steps[1].String())
	require.Equal(t, steps[0].String()+"\n"+steps[1].String()+"\n", FormatPlan(steps))
}
