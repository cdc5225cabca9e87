package thermal

// Policy is a frequency range in kHz requested for a single processing unit.
type Policy struct {
	Unit int  `json:"unit"`
	Min  uint `json:"min"`
	Max  uint `json:"max"`
}

// PolicyEnforcer keeps every frequency policy at or below the current ceiling.
// It is safe for concurrent use and never mutates ThrottleState.
type PolicyEnforcer struct {
	state *ThrottleState
}

func NewPolicyEnforcer(state *ThrottleState) *PolicyEnforcer {
	return &PolicyEnforcer{state: state}
}

// Clamp fits req into [lower, min(upper, ceiling)].
func (p *PolicyEnforcer) Clamp(req Policy, lower, upper uint) Policy {
	if ceiling := p.state.Ceiling(); upper > ceiling {
		upper = ceiling
	}

	return verifyWithinLimits(req, lower, upper)
}

// verifyWithinLimits raises the range to lower first and then cuts it to upper,
// so upper wins when the two bounds cross.
func verifyWithinLimits(req Policy, lower, upper uint) Policy {
	if req.Min < lower {
		req.Min = lower
	}
	if req.Max < lower {
		req.Max = lower
	}
	if req.Min > upper {
		req.Min = upper
	}
	if req.Max > upper {
		req.Max = upper
	}

	return req
}
