package qos

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEscapeRuleName(t *testing.T) {
	cases := map[string]string{
		"dd.0":       "dd_0",
		"rule_1":     "rule_1",
		"a-b c/d":    "a_b_c_d",
		"":           "",
		"ëxtra":      "ëxtra",
		"job{uid=0}": "job_uid_0_",
	}
	for in, want := range cases {
		require.Equal(t, want, EscapeRuleName(in), in)
	}
}

func TestVersionValue(t *testing.T) {
	require.Equal(t, 0x020836, VersionValue(2, 8, 54))
	require.Equal(t, 2<<16|10<<8|3, VersionValue(2, 10, 3))
	require.Less(t, VersionValue(2, 8, 53), VersionValue(2, 8, 54))
	require.Less(t, VersionValue(2, 8, 255), VersionValue(2, 9, 0))
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("2.10.3.0\n")
	require.NoError(t, err)
	require.Equal(t, Version{Major: 2, Minor: 10, Patch: 3, Fix: 0}, v)
	require.True(t, v.NewRuleSyntax())
	require.Equal(t, "2.10.3.0", v.String())

	old, err := ParseVersion("2.8.53.0")
	require.NoError(t, err)
	require.False(t, old.NewRuleSyntax())

	for _, bad := range []string{"2.10.3", "2.10.3.0.1", "v2.10.3.0", "", "2.x.3.0"} {
		_, err := ParseVersion(bad)
		require.Error(t, err, bad)
	}
}
