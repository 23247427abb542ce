package orchestrator

import (
	"fmt"
)

// Stage is a step of the migration state machine.
type Stage int

const (
	StagePreparation Stage = iota
	StageSchemaSync
	StageInitialDataSync
	StageIncrementalSync
	StageValidation
	StageCutoverPreparation
	StageCutover
	StagePostCutoverValidation
	StageCleanup
	StageCompleted
	StageFailed
	StageRolledBack
)

var stageNames = [...]string{
	StagePreparation:           "preparation",
	StageSchemaSync:            "schema_sync",
	StageInitialDataSync:       "initial_data_sync",
	StageIncrementalSync:       "incremental_sync",
	StageValidation:            "validation",
	StageCutoverPreparation:    "cutover_preparation",
	StageCutover:               "cutover",
	StagePostCutoverValidation: "post_cutover_validation",
	StageCleanup:               "cleanup",
	StageCompleted:             "completed",
	StageFailed:                "failed",
	StageRolledBack:            "rolled_back",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// ParseStage returns the stage with the given snake_case name.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(b []byte) error {
	v, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Terminal reports whether no further stage can follow s.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// CanTransition reports whether the state machine may move from s to next.
// Work stages advance strictly forward by one; any non-terminal stage may
// fail, and a rollback passes through RolledBack before ending in Failed.
func (s Stage) CanTransition(next Stage) bool {
	switch {
	case s.Terminal():
		return false
	case s == StageRolledBack:
		return next == StageFailed
	case next == StageFailed || next == StageRolledBack:
		return true
	case s == StageCleanup:
		return next == StageCompleted
	default:
		return next == s+1
	}
}

// workStages is the sequence Run drives.
var workStages = []Stage{
	StagePreparation,
	StageSchemaSync,
	StageInitialDataSync,
	StageIncrementalSync,
	StageValidation,
	StageCutoverPreparation,
	StageCutover,
	StagePostCutoverValidation,
	StageCleanup,
}
