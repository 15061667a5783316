package main

import "errors"

// Sentinel errors for the plan command.
var (
	ErrNoDeviceFiles   = errors.New("no --devices files given")
	ErrNoLustreVersion = errors.New("lustre version unknown: set qos.lustre_version or --lustre-version")
)
