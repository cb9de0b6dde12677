package tsm

import "strings"

// AppHandle is an opaque string addressing a submitted application:
// "backend://session/app_id". See spec §6 for the normative grammar.
type AppHandle string

// MakeAppHandle concatenates the three segments into an AppHandle.
func MakeAppHandle(schedulerBackend, sessionName, appID string) AppHandle {
	return AppHandle(schedulerBackend + "://" + sessionName + "/" + appID)
}

// ParseAppHandle splits a handle back into its three segments, returning a
// *MalformedAppHandleError if the scheme is missing, the session or app_id
// segment is empty, or there are extra path components.
func ParseAppHandle(handle AppHandle) (schedulerBackend, sessionName, appID string, err error) {
	s := string(handle)

	schemeIdx := strings.Index(s, "://")
	if schemeIdx <= 0 {
		return "", "", "", &MalformedAppHandleError{Handle: s, Reason: "missing scheduler backend"}
	}
	schedulerBackend = s[:schemeIdx]
	rest := s[schemeIdx+3:]

	slashIdx := strings.Index(rest, "/")
	if slashIdx < 0 {
		return "", "", "", &MalformedAppHandleError{Handle: s, Reason: "missing session/app_id"}
	}
	sessionName = rest[:slashIdx]
	appID = rest[slashIdx+1:]

	if sessionName == "" {
		return "", "", "", &MalformedAppHandleError{Handle: s, Reason: "missing session"}
	}
	if appID == "" {
		return "", "", "", &MalformedAppHandleError{Handle: s, Reason: "missing app_id"}
	}
	if strings.Contains(appID, "/") {
		return "", "", "", &MalformedAppHandleError{Handle: s, Reason: "extra path components after app_id"}
	}

	return schedulerBackend, sessionName, appID, nil
}
