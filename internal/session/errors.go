package session

import "github.com/frahmantamala/fleet-portal/internal"

// AppError maps a failure reason to its HTTP error.
func (r Reason) AppError() *internal.AppError {
	switch r {
	case ReasonInvalidCredentials:
		return internal.ErrInvalidCredentials
	case ReasonInactiveAccount:
		return internal.ErrUserInactive
	case ReasonEndpointUnreachable:
		return internal.ErrEndpointUnreachable
	case ReasonNoCurrentUser:
		return internal.ErrNoCurrentUser
	case ReasonWrongOldPassword:
		return internal.ErrWrongOldPassword
	case ReasonUserNotFound:
		return internal.ErrUserNotFound
	default:
		return internal.ErrUnknown
	}
}
