package driver

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	registryMu sync.RWMutex
	drivers    = make(map[string]Driver)
)

// Register adds a driver under its name and aliases. Driver packages call
// it from init(). Panics on a duplicate name.
func Register(d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()

	for _, name := range append([]string{d.Name()}, d.Aliases()...) {
		if _, exists := drivers[name]; exists {
			panic(fmt.Sprintf("driver %q already registered", name))
		}
		drivers[name] = d
	}
}

// Get retrieves a driver by name or alias (case-insensitive).
func Get(nameOrAlias string) (Driver, error) {
	registryMu.RLock()
	d, exists := drivers[strings.ToLower(nameOrAlias)]
	registryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown database driver: %q (available: %v)", nameOrAlias, Available())
	}
	return d, nil
}

// Available returns the sorted primary names of registered drivers.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	seen := make(map[string]bool)
	for _, d := range drivers {
		seen[d.Name()] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
