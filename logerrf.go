package main

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// logerrf returns an error annotated with the caller's file and line.
func logerrf(format string, args ...interface{}) error {
	message := fmt.Sprintf(format, args...)
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		return fmt.Errorf("at unknown location, %s", message)
	}
	return fmt.Errorf("at %s:%d, %s", filepath.Base(file), line, message)
}
