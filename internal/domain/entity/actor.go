package entity

// Role is the closed set of actor roles
type Role string

const (
	RoleAdmin          Role = "ADMIN"
	RoleFinanceUser    Role = "FINANCE_USER"
	RoleProjectManager Role = "PROJECT_MANAGER"
	RoleVendor         Role = "VENDOR"
)

// IsValid returns true for the four known roles
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleFinanceUser, RoleProjectManager, RoleVendor:
		return true
	default:
		return false
	}
}

// Actor is a user issuing commands
type Actor struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Role             Role     `json:"role"`
	AssignedProjects []string `json:"assigned_projects"`
	VendorID         string   `json:"vendor_id,omitempty"`
	LarkOpenID       string   `json:"lark_open_id,omitempty"`
}

// HasProject returns true if the project is in the actor's assigned projects
func (a *Actor) HasProject(projectID string) bool {
	if projectID == "" {
		return false
	}
	for _, p := range a.AssignedProjects {
		if p == projectID {
			return true
		}
	}
	return false
}

// DisplayName returns the name used in audit entries
func (a *Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}
