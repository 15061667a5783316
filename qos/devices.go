package qos

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DeviceType is the kind of Lustre target found by "lctl dl".
type DeviceType string

const (
	DeviceMDT DeviceType = "MDT"
	DeviceOST DeviceType = "OST"
	DeviceMGS DeviceType = "MGS"
)

// DetectCommand lists the devices running on a server.
const DetectCommand = "lctl dl"

// ErrDuplicateDevice means two hosts claim the same target.
var ErrDuplicateDevice = errors.New("device found on two hosts")

// Device is one target and the host running it.
type Device struct {
	Type  DeviceType `json:"type"`
	Index string     `json:"index"`
	Host  string     `json:"host"`
}

// Name is the target name as Lustre prints it.
func (d Device) Name(fsname string) string {
	if d.Type == DeviceMGS {
		return "MGS"
	}
	return fmt.Sprintf("%s-%s%s", fsname, d.Type, d.Index)
}

type devicePatterns struct {
	mdt, ost, mgs *regexp.Regexp
}

func newDevicePatterns(fsname string) devicePatterns {
	fs := regexp.QuoteMeta(fsname)
	return devicePatterns{
		mdt: regexp.MustCompile(`^.+ UP mdt ` + fs + `-MDT(\S+) .+$`),
		ost: regexp.MustCompile(`^.+ UP obdfilter ` + fs + `-OST(\S+) .+$`),
		mgs: regexp.MustCompile(`^.+ UP mgs MGS MGS .+$`),
	}
}

// ParseDevices extracts the targets of fsname from "lctl dl" output of host.
func ParseDevices(output, fsname, host string) []Device {
	p := newDevicePatterns(fsname)
	var devices []Device
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if m := p.mdt.FindStringSubmatch(line); m != nil {
			devices = append(devices, Device{Type: DeviceMDT, Index: m[1], Host: host})
		}
		if m := p.ost.FindStringSubmatch(line); m != nil {
			devices = append(devices, Device{Type: DeviceOST, Index: m[1], Host: host})
		}
		if p.mgs.MatchString(line) {
			devices = append(devices, Device{Type: DeviceMGS, Index: "0", Host: host})
		}
	}
	return devices
}

// MergeDevices appends found to known, rejecting a target already claimed by
// another entry.
func MergeDevices(known, found []Device, fsname string) ([]Device, error) {
	seen := make(map[string]Device, len(known))
	for _, d := range known {
		seen[string(d.Type)+"/"+d.Index] = d
	}
	for _, d := range found {
		key := string(d.Type) + "/" + d.Index
		if prev, ok := seen[key]; ok {
			return known, fmt.Errorf("%w: hosts [%s] and [%s] for device [%s]", ErrDuplicateDevice, prev.Host, d.Host, d.Name(fsname))
		}
		seen[key] = d
		known = append(known, d)
	}
	return known, nil
}

// OSTHosts returns the hosts running OSTs, each once, in device order.
func OSTHosts(devices []Device) []string {
	return hostsOf(devices, DeviceOST)
}

// MGSHosts returns the hosts running the MGS.
func MGSHosts(devices []Device) []string {
	return hostsOf(devices, DeviceMGS)
}

func hostsOf(devices []Device, typ DeviceType) []string {
	var hosts []string
	seen := make(map[string]bool)
	for _, d := range devices {
		if d.Type != typ || seen[d.Host] {
			continue
		}
		seen[d.Host] = true
		hosts = append(hosts, d.Host)
	}
	return hosts
}
