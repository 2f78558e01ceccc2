package dialog

// IsOwner reports whether actorID started the session. It has no side effects
// and must be checked before any input mutates the session.
func IsOwner(s *Session, actorID int64) bool {
	return s != nil && s.OwnerID == actorID
}
