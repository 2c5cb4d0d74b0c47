package models

import "strings"

type UserRole string

const (
	RoleAdmin       UserRole = "ADMIN"
	RoleChefService UserRole = "CHEF_SERVICE"
	RoleMedecin     UserRole = "MEDECIN"
	RoleInfirmier   UserRole = "INFIRMIER"
	RoleSecretaire  UserRole = "SECRETAIRE"
)

func AllRoles() []UserRole {
	return []UserRole{RoleAdmin, RoleChefService, RoleMedecin, RoleInfirmier, RoleSecretaire}
}

func IsValidRole(role UserRole) bool {
	switch role {
	case RoleAdmin, RoleChefService, RoleMedecin, RoleInfirmier, RoleSecretaire:
		return true
	}
	return false
}

// NormalizeRoles upper-cases, trims and de-duplicates roles, keeping input order.
func NormalizeRoles(roles []UserRole) []UserRole {
	seen := make(map[UserRole]struct{}, len(roles))
	out := make([]UserRole, 0, len(roles))
	for _, r := range roles {
		role := UserRole(strings.ToUpper(strings.TrimSpace(string(r))))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func IsValidRoleList(roles []UserRole) bool {
	for _, r := range roles {
		if !IsValidRole(r) {
			return false
		}
	}
	return true
}

// HasAnyRole reports whether roles contains at least one of allowed.
func HasAnyRole(roles []UserRole, allowed ...UserRole) bool {
	return len(allowed) > 0 && MatchesRoles(allowed, roles)
}

func RoleStrings(roles []UserRole) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

func RolesFromStrings(values []string) []UserRole {
	out := make([]UserRole, 0, len(values))
	for _, v := range values {
		out = append(out, UserRole(v))
	}
	return out
}
