package ring

// ShouldForward implements the current design's Chang-Roberts-style
// election rule exactly: an Election token is only forwarded when the
// receiving robot's id is strictly greater than the id carried in the
// token. Smaller ids are dropped rather than forwarded.
//
// This deviates from textbook Chang-Roberts, which always forwards the
// larger of the two ids regardless of direction; an election started by a
// non-maximum id can stall under this rule. The deviation is intentional
// and documented as an open question rather than silently corrected — see
// DESIGN.md.
func ShouldForward(myID, tokenID int) bool {
	return myID > tokenID
}
