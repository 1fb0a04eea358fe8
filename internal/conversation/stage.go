package conversation

import "fmt"

// Stage is the qualification funnel position. The set is closed: values the
// model invents outside this enum are rejected at the merge boundary.
type Stage string

const (
	StageGreeting       Stage = "GREETING"
	StageCollectingData Stage = "COLLECTING_DATA"
	StageCalculatingBMI Stage = "CALCULATING_BMI"
	StageFinalizing     Stage = "FINALIZING"
)

var stages = map[Stage]bool{
	StageGreeting:       true,
	StageCollectingData: true,
	StageCalculatingBMI: true,
	StageFinalizing:     true,
}

// ParseStage validates a raw stage string against the enum.
func ParseStage(s string) (Stage, error) {
	stage := Stage(s)
	if !stages[stage] {
		return "", fmt.Errorf("conversation: unknown stage %q", s)
	}
	return stage, nil
}

// knownTransitions lists the expected forward moves. Anything else is logged
// but still applied: models skip stages when the user front-loads their data.
var knownTransitions = map[Stage][]Stage{
	StageGreeting:       {StageCollectingData},
	StageCollectingData: {StageCollectingData, StageCalculatingBMI},
	StageCalculatingBMI: {StageCalculatingBMI, StageFinalizing},
	StageFinalizing:     {StageFinalizing},
}

func expectedTransition(from, to Stage) bool {
	if from == to {
		return true
	}
	for _, next := range knownTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
