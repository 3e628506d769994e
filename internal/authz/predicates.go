package authz

import "hospital.org/internal/auth"

// Predicate is an operation-level rule over the caller and the operation's
// own arguments.
type Predicate func(sc *auth.SecurityContext) bool

func HasAuthority(authority string) Predicate {
	return func(sc *auth.SecurityContext) bool {
		return sc.Authenticated() && sc.Authorities.Has(authority)
	}
}

func HasRole(role auth.Role) Predicate {
	return func(sc *auth.SecurityContext) bool {
		return sc.Authenticated() && sc.Authorities.HasRole(role)
	}
}

// IsSelf holds when the caller's account id equals id.
func IsSelf(id int64) Predicate {
	return func(sc *auth.SecurityContext) bool {
		return sc.Authenticated() && id > 0 && sc.AccountID() == id
	}
}

func AnyOf(preds ...Predicate) Predicate {
	return func(sc *auth.SecurityContext) bool {
		for _, p := range preds {
			if p(sc) {
				return true
			}
		}
		return false
	}
}

func AllOf(preds ...Predicate) Predicate {
	return func(sc *auth.SecurityContext) bool {
		for _, p := range preds {
			if !p(sc) {
				return false
			}
		}
		return len(preds) > 0
	}
}
