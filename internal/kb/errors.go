package kb

import "errors"

var (
	// ErrNotAFinding is returned when a finding path receives a value
	// that must go through RawWrite/RawRead instead.
	ErrNotAFinding = errors.New("non-finding values must use RawWrite and RawRead")

	// ErrRawFinding is returned when RawWrite receives a finding, which
	// must be stored through Append or AppendUniq.
	ErrRawFinding = errors.New("findings must be stored with Append or AppendUniq")

	// ErrUnknownFilter is returned by AppendUniq for a filter kind other
	// than URL or VAR.
	ErrUnknownFilter = errors.New("unknown dedup filter")

	// ErrAmbiguousResult is returned by RawRead and GetOne when an
	// address expected to hold at most one value holds several. It means
	// the single-value discipline was violated by an earlier writer.
	ErrAmbiguousResult = errors.New("address holds more than one value")

	// ErrStaleUpdate is returned by Update when the original identity is
	// no longer present, typically because a concurrent update replaced
	// it first. Nothing is written.
	ErrStaleUpdate = errors.New("original finding no longer present")
)
