package session

import (
	"github.com/frahmantamala/fleet-portal/internal/core/common/validation"
	"github.com/frahmantamala/fleet-portal/internal/identity"
)

const maxPasswordLength = 128

type LoginDTO struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	// Next is the page the browser was sent away from, if any.
	Next string `json:"next,omitempty"`
}

type UpdatePasswordDTO struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (d UpdatePasswordDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("old_password", d.OldPassword).Required()
	v.Field("new_password", d.NewPassword).Required().NotBlank().MaxLength(maxPasswordLength).
		Differs(d.OldPassword, "old_password")
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type LoginResponse struct {
	User       *identity.User `json:"user"`
	RedirectTo string         `json:"redirect_to"`
}

type LogoutResponse struct {
	LoggingOut bool `json:"logging_out"`
}

type StateResponse struct {
	State      State          `json:"state"`
	User       *identity.User `json:"user"`
	RedirectTo string         `json:"redirect_to,omitempty"`
	// Next is the page to return to after signing in again. Clients send it
	// back as LoginDTO.Next.
	Next string `json:"next,omitempty"`
}
