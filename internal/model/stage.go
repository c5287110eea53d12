package model

// Stage tracks the furthest pipeline step a ProcessingRecord has reached.
type Stage string

const (
	StagePending    Stage = "pending"
	StageScored     Stage = "scored"
	StageChunked    Stage = "chunked"
	StageClassified Stage = "classified"
	StageExtracted  Stage = "extracted"
	StageCompleted  Stage = "completed"
)

// stageRank orders stages for monotonicity checks.
var stageRank = map[Stage]int{
	StagePending:    0,
	StageScored:     1,
	StageChunked:    2,
	StageClassified: 3,
	StageExtracted:  4,
	StageCompleted:  5,
}

// Stages returns all stages in pipeline order.
func Stages() []Stage {
	return []Stage{StagePending, StageScored, StageChunked, StageClassified, StageExtracted, StageCompleted}
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageRank[s]
	return ok
}

// Rank returns the position of s in pipeline order, or -1 if unknown.
func (s Stage) Rank() int {
	r, ok := stageRank[s]
	if !ok {
		return -1
	}
	return r
}

// Before reports whether s comes strictly before other.
func (s Stage) Before(other Stage) bool {
	return s.Rank() >= 0 && other.Rank() >= 0 && s.Rank() < other.Rank()
}

// Terminal reports whether s is the final stage.
func (s Stage) Terminal() bool {
	return s == StageCompleted
}

// TimestampColumn returns the idempotency marker column stamped when s is
// reached, or "" for stages without one.
func (s Stage) TimestampColumn() string {
	switch s {
	case StageScored:
		return "scored_at"
	case StageChunked:
		return "chunked_at"
	case StageClassified:
		return "classified_at"
	case StageExtracted:
		return "extracted_at"
	default:
		return ""
	}
}

// Step names a stage invocation entry point. Steps run in a fixed order;
// each one moves records from one Stage to the next.
type Step string

const (
	StepNormalize Step = "normalize"
	StepScore     Step = "score"
	StepChunk     Step = "chunk"
	StepClassify  Step = "classify"
	StepExtract   Step = "extract"
	StepAggregate Step = "aggregate"
)

var stepOrder = []Step{StepNormalize, StepScore, StepChunk, StepClassify, StepExtract, StepAggregate}

// Steps returns every step in execution order.
func Steps() []Step {
	out := make([]Step, len(stepOrder))
	copy(out, stepOrder)
	return out
}

// ParseStep converts a string into a known Step.
func ParseStep(s string) (Step, bool) {
	for _, st := range stepOrder {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Next returns the step that consumes the output of s. The second return
// value is false for the last step.
func (s Step) Next() (Step, bool) {
	for i, st := range stepOrder {
		if st == s && i+1 < len(stepOrder) {
			return stepOrder[i+1], true
		}
	}
	return "", false
}
