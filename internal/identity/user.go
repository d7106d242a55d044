package identity

import "slices"

// User is the signed-in portal user as the fleet backend describes it.
type User struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Username       string   `json:"username"`
	Email          string   `json:"email"`
	Phone          string   `json:"phone,omitempty"`
	IsActive       bool     `json:"is_active"`
	Role           string   `json:"role"`
	Tag            string   `json:"tag,omitempty"`
	UserTypes      []string `json:"user_type,omitempty"`
	VehicleGroups  []string `json:"vehicle_group,omitempty"`
	GeofenceGroups []string `json:"geofence_group,omitempty"`
	CustomerGroups []string `json:"customer_group,omitempty"`
	Token          string   `json:"token,omitempty"`
}

// Valid reports whether u can back an authenticated session.
func (u *User) Valid() bool {
	return u != nil && u.ID != "" && u.Role != "" && u.Token != ""
}

// Clone returns a deep copy so callers never share slices with session state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.UserTypes = slices.Clone(u.UserTypes)
	c.VehicleGroups = slices.Clone(u.VehicleGroups)
	c.GeofenceGroups = slices.Clone(u.GeofenceGroups)
	c.CustomerGroups = slices.Clone(u.CustomerGroups)
	return &c
}

// Public strips the bearer token before the user leaves the gateway.
func (u *User) Public() *User {
	c := u.Clone()
	if c != nil {
		c.Token = ""
	}
	return c
}

// Equal compares two users field by field.
func Equal(a, b *User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID &&
		a.Name == b.Name &&
		a.Username == b.Username &&
		a.Email == b.Email &&
		a.Phone == b.Phone &&
		a.IsActive == b.IsActive &&
		a.Role == b.Role &&
		a.Tag == b.Tag &&
		a.Token == b.Token &&
		slices.Equal(a.UserTypes, b.UserTypes) &&
		slices.Equal(a.VehicleGroups, b.VehicleGroups) &&
		slices.Equal(a.GeofenceGroups, b.GeofenceGroups) &&
		slices.Equal(a.CustomerGroups, b.CustomerGroups)
}
