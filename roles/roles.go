package roles

import "github.com/google/uuid"

// Default is the role handed to accounts provisioned through SSO when
// the host has not configured one.
const Default = "subscriber"

// NamespaceRoleIDs is the UUID namespace used to derive stable role IDs
// from slugs. Role IDs are computed as UUIDv5(namespace, "role:"+slug);
// slugs are treated as immutable identity.
var NamespaceRoleIDs = uuid.MustParse("7c1f3a28-9be4-5f02-a6d1-40c3e97d51b6")

func IDFromSlug(slug string) uuid.UUID {
	return uuid.NewSHA1(NamespaceRoleIDs, []byte("role:"+slug))
}

// Elevated reports whether a role lands on the admin dashboard after
// login rather than the site front.
func Elevated(slug string) bool {
	switch slug {
	case "administrator", "editor":
		return true
	}
	return false
}
