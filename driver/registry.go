package driver

import (
	"fmt"
	"sync"
)

// OpenFunc opens a file through a registered driver. maxAddr is the highest
// address the owning library may use; drivers reject zero or undefined
// values.
type OpenFunc func(name string, flags OpenFlags, maxAddr uint64) (File, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]OpenFunc{}
)

// Register registers a named driver. Registering the same name again
// replaces the previous entry.
func Register(name string, open OpenFunc) error {
	if name == "" {
		return fmt.Errorf("driver name cannot be empty")
	}
	if open == nil {
		return fmt.Errorf("driver %q has no open function", name)
	}
	registryMu.Lock()
	registry[name] = open
	registryMu.Unlock()
	return nil
}

// Lookup returns the open function of a registered driver.
func Lookup(name string) (OpenFunc, error) {
	registryMu.RLock()
	open, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s driver unknown", name)
	}
	return open, nil
}

// Open opens file through the driver registered under driverName.
func Open(driverName, file string, flags OpenFlags, maxAddr uint64) (File, error) {
	open, err := Lookup(driverName)
	if err != nil {
		return nil, err
	}
	return open(file, flags, maxAddr)
}
