package errcode

// Code is a stable, command-layer-facing status identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	// Config staging/commit rejections. These are the status bytes the
	// remote command layer reports back to the client.
	CfgUnsupported Code = "cfg_unsupported" // wrong version/size or corrupt transport CRC
	CfgRange       Code = "cfg_range"       // scalar field out of range
	CfgMonotonic   Code = "cfg_monotonic"   // assist curve x-values not strictly increasing
	CfgPolicy      Code = "cfg_policy"      // disallowed mode/flag transition
	CfgPIN         Code = "cfg_pin"         // PIN mismatch on a gated transition
	CfgRate        Code = "cfg_rate"        // PIN retry inside the cooldown window
	CfgMoving      Code = "cfg_moving"      // vehicle above the standstill threshold
	CfgNotStaged   Code = "cfg_not_staged"  // commit without a prior successful stage

	// Storage-level codes.
	BadSlot    Code = "bad_slot"    // A/B slot id outside {0, 1, none}
	BadAddress Code = "bad_address" // flash access outside the device or a region
	BadLayout  Code = "bad_layout"  // overlapping or misaligned region map
	Timeout    Code = "timeout"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}
