package audit

import (
	"strings"

	"garrison.org/internal/authz"
)

// RedactedMarker replaces sensitive values in persisted diffs and payloads.
const RedactedMarker = "[REDACTED]"

var sensitiveKeyFragments = []string{"password", "token", "secret"}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// RedactSensitiveData returns a copy of the payload with credential-bearing
// keys replaced by the fixed marker at any depth, email addresses masked to
// their first character plus domain, and phone numbers masked except the
// last two digits. The input is never mutated.
func RedactSensitiveData(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		out[key] = redactValue(key, value)
	}
	return out
}

func redactValue(key string, value any) any {
	if isSensitiveKey(key) {
		return RedactedMarker
	}
	switch v := value.(type) {
	case map[string]any:
		return RedactSensitiveData(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = redactValue(key, item)
		}
		return out
	case string:
		lower := strings.ToLower(key)
		switch {
		case strings.Contains(lower, "email"):
			return MaskEmail(v)
		case strings.Contains(lower, "phone"):
			return MaskPhone(v)
		}
		return v
	default:
		return value
	}
}

// MaskEmail keeps the first character of the local part and the full domain.
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return email
	}
	return email[:1] + "***" + email[at:]
}

// MaskPhone keeps only the last two digits.
func MaskPhone(phone string) string {
	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits <= 2 {
		return phone
	}
	var b strings.Builder
	seen := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			seen++
			if seen <= digits-2 {
				b.WriteRune('*')
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *Diff) redacted() *Diff {
	if d == nil {
		return nil
	}
	out := &Diff{ChangedFields: d.ChangedFields}
	out.Added = RedactSensitiveData(d.Added)
	out.Removed = RedactSensitiveData(d.Removed)
	if d.Changed != nil {
		out.Changed = make(map[string]FieldChange, len(d.Changed))
		for field, change := range d.Changed {
			out.Changed[field] = FieldChange{
				From: redactValue(field, change.From),
				To:   redactValue(field, change.To),
			}
		}
	}
	return out
}

// ApplyFieldRestrictions enforces per-field visibility rules on an outgoing
// payload: omitted fields are dropped, redacted fields keep their key with
// the marker value. The input is never mutated.
func ApplyFieldRestrictions(payload map[string]any, rules []authz.FieldRule) map[string]any {
	if payload == nil || len(rules) == 0 {
		return payload
	}
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		out[key] = value
	}
	for _, rule := range rules {
		if _, ok := out[rule.Field]; !ok {
			continue
		}
		switch rule.Mode {
		case authz.FieldOmit:
			delete(out, rule.Field)
		case authz.FieldRedact:
			out[rule.Field] = RedactedMarker
		}
	}
	return out
}
