package feeder

import "fmt"

// Validation bounds.
const (
	// maxTimedRunSec caps timed actuator/motor runs. Anything longer
	// than this is a typo, not a feed.
	maxTimedRunSec = 300.0

	// maxFeedGrams caps a single feed. The hopper holds about 2kg.
	maxFeedGrams = 5000.0

	// maxPhaseSec caps one phase of an explicit feed sequence.
	maxPhaseSec = 120.0
)

// allowedActions maps each target to its permitted actions.
// Commands outside this table are rejected before anything reaches
// the device.
var allowedActions = map[Target]map[Action]bool{
	TargetLED: {
		ActionOn: true, ActionOff: true, ActionToggle: true,
	},
	TargetFan: {
		ActionOn: true, ActionOff: true, ActionToggle: true,
	},
	TargetAuger: {
		ActionStop: true, ActionForward: true, ActionReverse: true,
	},
	TargetBlower: {
		ActionOn: true, ActionOff: true, ActionToggle: true, ActionPWM: true,
	},
	TargetActuator: {
		ActionStop: true, ActionUp: true, ActionDown: true,
	},
	TargetSystem: {
		ActionStopAll: true,
	},
}

// ValidateCommand checks a command against the per-target allow-list
// and value ranges.
//
// Rules:
//   - Target and action must be recognised, and the action must be
//     allowed for the target.
//   - ActionPWM requires a value in [0, 255].
//   - Timed actuator runs (up/down with a value) must be in (0, 300]s.
//   - No other action takes a value; motor speeds are settings, not
//     command arguments.
//
// Returns:
//   - error: nil if valid, otherwise a wrapped sentinel error
func ValidateCommand(cmd Command) error {
	if !cmd.Target.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownTarget, cmd.Target)
	}

	actions, ok := allowedActions[cmd.Target]
	if !ok || !actions[cmd.Action] {
		return fmt.Errorf("%w: %s/%s", ErrUnknownAction, cmd.Target, cmd.Action)
	}

	switch cmd.Action {
	case ActionPWM:
		if !cmd.HasValue {
			return fmt.Errorf("%w: %s requires a duty value", ErrMissingValue, cmd.Action)
		}
		if cmd.Value < PWMMin || cmd.Value > PWMMax {
			return fmt.Errorf("%w: pwm %v outside [%d, %d]", ErrInvalidValue, cmd.Value, PWMMin, PWMMax)
		}
	case ActionUp, ActionDown:
		if cmd.HasValue && (cmd.Value <= 0 || cmd.Value > maxTimedRunSec) {
			return fmt.Errorf("%w: duration %vs outside (0, %v]", ErrInvalidValue, cmd.Value, maxTimedRunSec)
		}
	default:
		if cmd.HasValue {
			return fmt.Errorf("%w: %s takes no value", ErrInvalidValue, cmd.Action)
		}
	}

	return nil
}

// ValidateFeedRequest checks that a feed request specifies exactly one
// feed mode with values in range.
func ValidateFeedRequest(req FeedRequest) error {
	modes := 0
	if req.Preset != "" {
		modes++
	}
	if req.Grams > 0 {
		modes++
	}
	if req.Sequence != nil {
		modes++
	}
	if modes != 1 {
		return fmt.Errorf("%w: exactly one of preset, grams, or sequence required", ErrInvalidFeedRequest)
	}

	switch {
	case req.Preset != "":
		if !req.Preset.IsValid() {
			return fmt.Errorf("%w: unknown preset %q", ErrInvalidFeedRequest, req.Preset)
		}
	case req.Grams > 0:
		if req.Grams > maxFeedGrams {
			return fmt.Errorf("%w: %vg exceeds maximum %vg", ErrInvalidFeedRequest, req.Grams, maxFeedGrams)
		}
	case req.Sequence != nil:
		return validateSequence(req.Sequence)
	}

	return nil
}

// validateSequence checks an explicit feed sequence.
func validateSequence(seq *FeedSequence) error {
	if seq.TargetG < 0 || seq.TargetG > maxFeedGrams {
		return fmt.Errorf("%w: sequence target %vg outside [0, %v]", ErrInvalidFeedRequest, seq.TargetG, maxFeedGrams)
	}
	if seq.AugerSec <= 0 {
		return fmt.Errorf("%w: sequence needs a positive auger duration", ErrInvalidFeedRequest)
	}

	phases := []struct {
		name string
		sec  float64
	}{
		{"actuator_up", seq.ActuatorUpSec},
		{"actuator_down", seq.ActuatorDownSec},
		{"auger", seq.AugerSec},
		{"blower", seq.BlowerSec},
	}
	for _, p := range phases {
		if p.sec < 0 || p.sec > maxPhaseSec {
			return fmt.Errorf("%w: %s duration %vs outside [0, %v]", ErrInvalidFeedRequest, p.name, p.sec, maxPhaseSec)
		}
	}

	return nil
}
