package backend

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/frahmantamala/fleet-portal/internal/access"
	"github.com/frahmantamala/fleet-portal/internal/identity"
)

// LoginRequest is the body of POST /login. Username also accepts an email.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *LoginRequest) Validate() error {
	if r.Username == "" {
		return errors.New("username is required")
	}
	if r.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

type UpdatePasswordRequest struct {
	ID          string `json:"id"`
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (r *UpdatePasswordRequest) Validate() error {
	if r.ID == "" {
		return errors.New("id is required")
	}
	if r.OldPassword == "" || r.NewPassword == "" {
		return errors.New("oldPassword and newPassword are required")
	}
	return nil
}

// UserResponse is the envelope of /login and /user/id/{id}.
type UserResponse struct {
	Data identity.User `json:"data"`
}

// RolesResponse is the body of /roles/{userId}: a bare array of permission
// records. A {"data": [...]} envelope is accepted as well.
type RolesResponse []access.PermissionRecord

func (r *RolesResponse) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("{")) {
		var envelope struct {
			Data []access.PermissionRecord `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return err
		}
		*r = envelope.Data
		return nil
	}

	var records []access.PermissionRecord
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return err
	}
	*r = records
	return nil
}

type MessageResponse struct {
	Message string `json:"message"`
}
