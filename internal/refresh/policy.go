package refresh

import "time"

// Policy decides what happens when a refresh fails.
//
// With a prior cached value present the value is served with Stale set and
// its age attached; a dashboard reporting "balance as of 47s ago (stale)"
// beats one that errors out. Without a prior value the originating error
// kind is propagated unchanged.
type Policy struct {
	// MaxStaleAge bounds how old a value may be and still be served as a
	// fallback. Zero means unbounded.
	MaxStaleAge time.Duration
}

// serveable reports whether a value of the given age may still be used as
// a stale fallback.
func (p Policy) serveable(age time.Duration) bool {
	return p.MaxStaleAge == 0 || age <= p.MaxStaleAge
}
