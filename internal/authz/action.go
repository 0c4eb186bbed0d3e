package authz

import (
	"fmt"
	"strings"
)

// Action identifies one permissioned operation as a {domain, resource, verb}
// tuple. The colon-joined form ("oc:academics:read") appears only at the
// storage and wire boundary; in-process code passes the struct.
type Action struct {
	Domain   string
	Resource string
	Verb     string
}

// String serializes the action to its permission-key form.
func (a Action) String() string {
	if a.IsZero() {
		return ""
	}
	return a.Domain + ":" + a.Resource + ":" + a.Verb
}

// IsZero reports whether the action is unset. Resources without a required
// action are treated as unclassified by the engine.
func (a Action) IsZero() bool {
	return a.Domain == "" && a.Resource == "" && a.Verb == ""
}

// ParseAction parses a colon-separated permission key.
func ParseAction(key string) (Action, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Action{}, fmt.Errorf("action key is empty")
	}
	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return Action{}, fmt.Errorf("action key %q: want domain:resource:verb", key)
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return Action{}, fmt.Errorf("action key %q: empty segment", key)
		}
	}
	return Action{
		Domain:   strings.TrimSpace(parts[0]),
		Resource: strings.TrimSpace(parts[1]),
		Verb:     strings.TrimSpace(parts[2]),
	}, nil
}

// Catalog of actions exercised by this service's own surface. Business
// modules register their own keys through the permissions table.
var (
	ActionPolicyManage       = Action{Domain: "admin", Resource: "policy", Verb: "manage"}
	ActionAppointmentsManage = Action{Domain: "admin", Resource: "appointments", Verb: "manage"}
	ActionAuditRead          = Action{Domain: "admin", Resource: "audit", Verb: "read"}
)
