package audit

import (
	"strings"
)

// requestTarget extracts the action id and the operation from an actions API
// path such as /api/actions/v1/actions/{id}/transition.
func requestTarget(method, path string) (actionID, operation string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if p != "actions" || i < 2 {
			continue
		}
		rest := parts[i+1:]
		switch len(rest) {
		case 0:
			return "", verbForMethod(method)
		case 1:
			return rest[0], verbForMethod(method)
		default:
			return rest[0], rest[1]
		}
	}
	if len(parts) > 0 {
		return "", parts[len(parts)-1]
	}
	return "", verbForMethod(method)
}

func verbForMethod(method string) string {
	switch method {
	case "POST":
		return "create"
	case "PUT":
		return "update"
	case "PATCH":
		return "patch"
	case "DELETE":
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

// isMutatingRequest returns true if the request should be audited. Reads
// and health probes are not.
func isMutatingRequest(method, path string) bool {
	switch path {
	case "/livez", "/readyz", "/healthz":
		return false
	}
	switch method {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	}
	return false
}
