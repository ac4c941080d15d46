package processor

// Stage is a position in the per-request lifecycle. Requests only move
// forward; StageFailed is reachable from validating, rendering and delivering.
type Stage string

const (
	StageValidating Stage = "validating"
	StageAllocating Stage = "allocating"
	StageRendering  Stage = "rendering"
	StageArchiving  Stage = "archiving"
	StageDelivering Stage = "delivering"
	StageCleaningUp Stage = "cleaning_up"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}
