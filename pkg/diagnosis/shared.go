package diagnosis

import "sync"

var (
	sharedMu sync.Mutex
	shared   *Engine
)

// Shared returns the process-wide engine, building it with build on first
// use. Construction is serialized: the first successful build wins and is
// never replaced. A failed build leaves the instance unset so a later call
// can retry.
func Shared(build func() (*Engine, error)) (*Engine, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared != nil {
		return shared, nil
	}
	e, err := build()
	if err != nil {
		return nil, err
	}
	shared = e
	return e, nil
}

// SharedIfExists returns the process-wide engine, or nil if none was built
func SharedIfExists() *Engine {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	return shared
}
