package models

// ImportState is a step of the import state machine.
type ImportState string

// Import states.
const (
	ImportIdle       ImportState = "idle"
	ImportFetching   ImportState = "fetching"
	ImportLinking    ImportState = "linking"
	ImportPersisting ImportState = "persisting"
	ImportDone       ImportState = "done"
	ImportFailed     ImportState = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s ImportState) Terminal() bool {
	return s == ImportDone || s == ImportFailed
}
