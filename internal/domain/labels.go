package domain

// Labels used as durable machine state on the pull request itself. Each
// label is set and cleared only by its owning handler; the state machine
// re-derives from the full set every cycle and tolerates out-of-band
// additions and removals.
const (
	LabelRFR        = "rfr"
	LabelReady      = "ready"
	LabelSponsor    = "sponsor"
	LabelDelegated  = "delegated"
	LabelAuto       = "auto"
	LabelIntegrated = "integrated"
	LabelBackport   = "backport"
	LabelClean      = "clean"
	LabelCSR        = "csr"
)

// State is the integration lifecycle state of a pull request, derived
// from labels and the open/closed axis rather than stored anywhere.
type State string

const (
	StateNotReady        State = "not-ready"
	StateReadyForReview  State = "ready-for-review"
	StateReady           State = "ready"
	StateAwaitingSponsor State = "awaiting-sponsor"
	StateDelegated       State = "delegated"
	StateIntegrating     State = "integrating"
	StateIntegrated      State = "integrated"
)

// DeriveState recomputes the lifecycle state from a PR snapshot. The
// derivation is idempotent: repeated calls on the same snapshot always
// agree, and no incremental diffing against a prior state is involved.
func DeriveState(pr *PullRequestView) State {
	switch {
	case pr.HasLabel(LabelIntegrated):
		return StateIntegrated
	case pr.HasLabel(LabelSponsor):
		return StateAwaitingSponsor
	case pr.HasLabel(LabelReady) && pr.HasLabel(LabelDelegated):
		return StateDelegated
	case pr.HasLabel(LabelReady):
		return StateReady
	case pr.HasLabel(LabelRFR):
		return StateReadyForReview
	default:
		return StateNotReady
	}
}
