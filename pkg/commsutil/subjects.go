package commsutil

import "strings"

// Subjects.
const (
	// SubjectInvoked is the global subject every invocation event goes to.
	SubjectInvoked = "opcatalog.invoked"
	// SubjectInvoke receives bridge requests.
	SubjectInvoke = "opcatalog.invoke"
)

// BuildInvokedSubject builds the granular subject for one operation, e.g.
// ("services", "clients/cegid/get") -> "opcatalog.invoked.services.clients.cegid.get".
func BuildInvokedSubject(catalog, operation string) string {
	parts := []string{SubjectInvoked, token(catalog)}
	for _, seg := range strings.Split(strings.Trim(operation, "/"), "/") {
		if seg != "" {
			parts = append(parts, token(seg))
		}
	}
	return strings.Join(parts, ".")
}

// token makes s safe as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}
