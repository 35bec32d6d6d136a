package model

import (
	"strconv"
	"strings"
)

// CRM department codes that map to application roles.
const (
	DepartmentInstallers = 27
	DepartmentWarehouse  = 45
	DepartmentAdmin      = 53
)

const (
	PermissionInstaller = "installation_team"
	PermissionWarehouse = "warehouse_manager"
	PermissionAdmin     = "admin_panel"
)

// User is a CRM staff record plus the local-only login credential and
// city binding. DepartmentIDs keeps the CRM's membership list as a
// comma-separated string, the way it arrives and is stored.
type User struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	LastName      string `json:"last_name"`
	DepartmentIDs string `json:"department_ids" gorm:"column:department_ids"`
	Password      string `json:"-"`
	City          string `json:"city"`
}

// Departments parses the stored membership list.
func (u User) Departments() []int {
	parts := strings.Split(u.DepartmentIDs, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (u User) HasDepartment(dept int) bool {
	for _, id := range u.Departments() {
		if id == dept {
			return true
		}
	}
	return false
}

func (u User) IsInstaller() bool { return u.HasDepartment(DepartmentInstallers) }
func (u User) IsWarehouse() bool { return u.HasDepartment(DepartmentWarehouse) }
func (u User) IsAdmin() bool     { return u.HasDepartment(DepartmentAdmin) }

// Permissions derives the role list surfaced to clients and embedded in
// access tokens.
func (u User) Permissions() []string {
	var perms []string
	if u.IsWarehouse() {
		perms = append(perms, PermissionWarehouse)
	}
	if u.IsInstaller() {
		perms = append(perms, PermissionInstaller)
	}
	if u.IsAdmin() {
		perms = append(perms, PermissionAdmin)
	}
	return perms
}

// JoinDepartments renders a department list back into storage form.
func JoinDepartments(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}

// UserPatch is a partial update for a stored user. Nil fields stay
// untouched.
type UserPatch struct {
	Name          *string
	LastName      *string
	DepartmentIDs *string
	Password      *string
	City          *string
}

func (p UserPatch) Empty() bool {
	return p.Name == nil && p.LastName == nil && p.DepartmentIDs == nil &&
		p.Password == nil && p.City == nil
}

// Principal is the authenticated caller extracted from an access token.
type Principal struct {
	UserID      int64
	Name        string
	LastName    string
	City        string
	Permissions []string
}

func (p Principal) has(perm string) bool {
	for _, candidate := range p.Permissions {
		if candidate == perm {
			return true
		}
	}
	return false
}

func (p Principal) IsInstaller() bool { return p.has(PermissionInstaller) }
func (p Principal) IsWarehouse() bool { return p.has(PermissionWarehouse) }
func (p Principal) IsAdmin() bool     { return p.has(PermissionAdmin) }
