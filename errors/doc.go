// Package errors provides standardized error handling for resilkit components.
//
// # Overview
//
// Errors fall into three classes:
//
//   - Transient: transport drops, timeouts, admission rejections. The toolkit
//     recovers from these by itself (reconnect, refill) and only reports them
//     as status.
//   - Invalid: bad construction parameters and malformed inbound payloads.
//     Constructors fail fast; malformed messages are dropped.
//   - Fatal: reconnection attempts exhausted. Surfaced to the caller, who must
//     intervene (for example by calling Reconnect on a channel).
//
// # Error Wrapping Pattern
//
// All wrapping follows "component.method: action failed: cause":
//
//	if capacity <= 0 {
//	    return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "ratelimit", "New", "validate capacity")
//	}
//
// Classification survives wrapping and is inspected with IsTransient,
// IsInvalid, IsFatal or Classify. The standard errors.Is / errors.As helpers
// are re-exported so a single import covers both.
package errors
