package domain

import "slices"

// Staff is a roster entry read from the staff directory
type Staff struct {
	ID          string `json:"staff_id"`
	Name        string `json:"name"`
	PrimaryRole Role   `json:"primary_role"`
	// SecondaryRoles are additional roles the staff member is trained for
	SecondaryRoles []Role `json:"secondary_roles"`
	IsActive       bool   `json:"is_active"`
	IsSuspended    bool   `json:"is_suspended"`
	PushToken      string `json:"push_token,omitempty"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
}

// HasChannel reports whether at least one notification channel is registered
func (s Staff) HasChannel() bool {
	return s.PushToken != "" || s.Email != "" || s.Phone != ""
}

// Available reports whether the staff member may receive offers at all
func (s Staff) Available() bool {
	return s.IsActive && !s.IsSuspended
}

// HasRole reports whether role is the primary or one of the secondary roles
func (s Staff) HasRole(role Role) bool {
	return s.PrimaryRole == role || slices.Contains(s.SecondaryRoles, role)
}

// BusyWindow is a committed assignment occupying a staff member
type BusyWindow struct {
	StaffID string
	JobID   string
	Window  Window
}
