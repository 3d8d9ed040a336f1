package diagnosis

// ResetShared forgets the process-wide engine between tests
func ResetShared() {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	shared = nil
}
