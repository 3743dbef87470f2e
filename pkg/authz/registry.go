package authz

const (
	RoleAnonymous         = "anonymous"
	RoleEmployee          = "employee"
	RoleComplianceOfficer = "compliance-officer"
	RoleAdmin             = "admin"
)

const (
	ActionRead  = "read"
	ActionWrite = "write"
	ActionAdmin = "admin"
)

const (
	ObjectGuardAsk              = "guard.ask"
	ObjectGuardDocuments        = "guard.documents"
	ObjectGuardRules            = "guard.rules"
	ObjectGuardEvents           = "guard.events"
	ObjectGuardClauses          = "guard.clauses"
	ObjectGuardClausesProtected = "guard.clauses.protected"
)

func KnownRole(role string) bool {
	switch role {
	case RoleAnonymous, RoleEmployee, RoleComplianceOfficer, RoleAdmin:
		return true
	default:
		return false
	}
}
