package workflow

// MaxDepth is the deepest cycle that may still loop back to Entry. A run
// whose depth exceeds it is finalized regardless of the judgements.
const MaxDepth = 2

// Verdict reasons.
const (
	ReasonCycleLimit   = "cycle_limit"
	ReasonNoJudgements = "no_judgements"
	ReasonAllRejected  = "all_rejected"
	ReasonAccepted     = "accepted"
)

// Verdict is the decision taken after Judge.
type Verdict struct {
	Next   string
	Reason string
}

// DepthCapReached reports whether depth has passed MaxDepth.
func DepthCapReached(depth int) bool {
	return depth > MaxDepth
}

// AfterJudgement decides where a run goes once every candidate has been
// judged. The rules are checked in order:
//
//  1. the depth cap was passed: finalize
//  2. there are no judgements: retry from Entry
//  3. every candidate was rejected: retry from Entry
//  4. at least one candidate was accepted: finalize
func AfterJudgement(s CaseState) Verdict {
	if DepthCapReached(s.Depth) {
		return Verdict{Next: NodeFinalSynthesize, Reason: ReasonCycleLimit}
	}
	if len(s.Judgements) == 0 {
		return Verdict{Next: NodeEntry, Reason: ReasonNoJudgements}
	}
	for _, j := range s.Judgements {
		if j.Accepted {
			return Verdict{Next: NodeFinalSynthesize, Reason: ReasonAccepted}
		}
	}
	return Verdict{Next: NodeEntry, Reason: ReasonAllRejected}
}
