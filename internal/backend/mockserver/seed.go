package mockserver

import (
	"time"

	"github.com/frahmantamala/fleet-portal/internal/access"
	"github.com/frahmantamala/fleet-portal/internal/identity"
)

// DemoPassword is shared by every demo account.
const DemoPassword = "password"

func tab(key string, code int) access.TabAccess {
	return access.TabAccess{Key: key, Code: code, Valid: true}
}

// DemoAccounts covers an administrator, a read-only operator and an inactive user.
func DemoAccounts() []Account {
	return []Account{
		{
			User: identity.User{
				ID: "u-admin", Name: "Fleet Admin", Username: "admin", Email: "admin@fleet.local",
				IsActive: true, Role: "admin", UserTypes: []string{"internal"},
				VehicleGroups: []string{"all"}, GeofenceGroups: []string{"all"},
			},
			Password: DemoPassword,
		},
		{
			User: identity.User{
				ID: "u-operator", Name: "Night Operator", Username: "operator", Email: "operator@fleet.local",
				IsActive: true, Role: "operator", Tag: "night-shift",
				VehicleGroups: []string{"north"}, CustomerGroups: []string{"acme"},
			},
			Password: DemoPassword,
		},
		{
			User: identity.User{
				ID: "u-former", Name: "Former Staff", Username: "former", Email: "former@fleet.local",
				IsActive: false, Role: "operator",
			},
			Password: DemoPassword,
		},
	}
}

// DemoRecords are the responsibilities matching DemoAccounts' roles.
func DemoRecords() []access.PermissionRecord {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []access.PermissionRecord{
		{
			ID: "r-admin", Role: "admin", CreatedAt: now, UpdatedAt: now,
			TabsAccess: []access.TabAccess{
				tab("dashboard", 2), tab("vehicle", 2), tab("map", 2), tab("alarm", 2),
				tab("geofence", 2), tab("report", 2), tab("entity", 2), tab("group", 2),
				tab("vendor", 2), tab("customer_group", 2), tab("responsibility", 2), tab("user", 2),
			},
			ReportAccess: []string{"R1", "R2", "R3"},
		},
		{
			ID: "r-operator", Role: "operator", CreatedAt: now, UpdatedAt: now,
			TabsAccess: []access.TabAccess{
				tab("dashboard", 1), tab("vehicle", 1), tab("map", 0), tab("alarm", 2), tab("group", 1),
			},
			ReportAccess: []string{"R1"},
		},
	}
}

// Seed loads the demo data.
func (s *Server) Seed() error {
	for _, a := range DemoAccounts() {
		if err := s.AddAccount(a); err != nil {
			return err
		}
	}
	s.SetRecords(DemoRecords())
	return nil
}
