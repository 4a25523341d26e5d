package store

// ValidationError reports a name or message body that failed the length,
// emptiness or uniqueness checks.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// NotFoundError reports an operation that referenced an id with no
// corresponding live entity.
type NotFoundError struct {
	Reason string
}

func (e *NotFoundError) Error() string {
	return e.Reason
}

// AuthorizationError reports an action attempted by a connection that is not
// currently a member of the target room.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return e.Reason
}
