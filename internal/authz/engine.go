package authz

// Evaluation rules, in order. The first matching rule settles the decision.
const (
	RuleBypass   = "bypass"
	RuleBaseline = "baseline"
	RulePolicy   = "policy"
	RuleDefault  = "default"
)

// Input is one authorization question.
type Input struct {
	Principal Principal
	Resource  Resource
	Action    Action
	// Context carries request-specific attributes future rules may consume.
	Context map[string]string
}

// Decision is the engine's answer. FieldRestrictions, when present on an
// allow, list output fields the caller must redact or omit before
// serializing a response.
type Decision struct {
	Allow             bool
	Reason            string
	Rule              string
	FieldRestrictions []FieldRule
}

// Authorize decides whether the principal may perform the action on the
// resource. Pure: no I/O, no mutation, deterministic given its inputs.
//
// Order: super-admin bypass, admin baseline, explicit policy evaluation
// (grant minus deny), then default-allow for unclassified resources. Routes
// that matter always declare an action; the default exists for navigation
// items and similar unguarded leaves.
func Authorize(in Input) Decision {
	if in.Principal.HasRole(RoleSuperAdmin) {
		return Decision{Allow: true, Reason: "super admin", Rule: RuleBypass}
	}

	if in.Resource.AdminBaseline && in.Principal.HasRole(RoleAdmin) {
		return Decision{Allow: true, Reason: "admin baseline", Rule: RuleBaseline}
	}

	if in.Action.IsZero() {
		return Decision{Allow: true, Reason: "unclassified resource", Rule: RuleDefault}
	}

	key := in.Action.String()
	granted := in.Principal.hasPermission(key)
	denied := in.Principal.isDenied(key)

	switch {
	case denied:
		// Deny overrides grant when both apply to the same key.
		return Decision{Allow: false, Reason: "permission explicitly denied", Rule: RulePolicy}
	case granted:
		return Decision{
			Allow:             true,
			Reason:            "permission granted",
			Rule:              RulePolicy,
			FieldRestrictions: in.Principal.Attrs.FieldRules[key],
		}
	default:
		return Decision{Allow: false, Reason: "permission not granted", Rule: RulePolicy}
	}
}
