package pluginapi

// Outcome classifies what a single dispatchProcess epoch did (§4.5).
// Unlike a typical plugin ABI's richer tail/sleep status set, this
// proxy's Process opcode carries no payload and the server reports only
// whether the epoch ran the plugin or was skipped/failed — the hosted
// plugin's own tail/sleep behavior is its concern, not the wire protocol's.
type Outcome int32

const (
	// OutcomeProcessed: the plugin ran against the full input/output region.
	OutcomeProcessed Outcome = iota

	// OutcomeSkippedUnsized: the audio region was never mapped because
	// Ni, No, or B is still unset; the server logs and returns without
	// calling the plugin (§4.5 "Lazy sizing").
	OutcomeSkippedUnsized

	// OutcomeRejected: the hosted plugin refused the process call.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeSkippedUnsized:
		return "skipped (unsized)"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Result carries the outcome of one process epoch plus any error.
type Result struct {
	Outcome Outcome
	Err     error
}

func Processed() Result { return Result{Outcome: OutcomeProcessed} }

func SkippedUnsized() Result { return Result{Outcome: OutcomeSkippedUnsized} }

func Rejected(err error) Result { return Result{Outcome: OutcomeRejected, Err: err} }

func (r Result) IsError() bool {
	return r.Err != nil
}
