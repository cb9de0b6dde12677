// Package macro defines the closed set of reserved tokens that the driver
// substitutes into a role's entrypoint, args and env values at submission
// time. It is deliberately not a general templating engine: just a plain
// string replacement pass over three well-known tokens.
package macro

import "strings"

const (
	// ImgRoot resolves to the local path an image was fetched to.
	ImgRoot = "${img_root}"
	// AppID resolves to the app_id assigned at submission.
	AppID = "${app_id}"
	// ReplicaID resolves to the zero-based index of the replica.
	ReplicaID = "${replica_id}"
)

// Values holds the concrete substitution for each macro token for one
// particular (app, replica) pair.
type Values struct {
	ImgRoot   string
	AppID     string
	ReplicaID string
}

func (v Values) replacer() *strings.Replacer {
	return strings.NewReplacer(
		ImgRoot, v.ImgRoot,
		AppID, v.AppID,
		ReplicaID, v.ReplicaID,
	)
}

// Substitute replaces every occurrence of the three macro tokens in s.
func (v Values) Substitute(s string) string {
	return v.replacer().Replace(s)
}

// SubstituteAll replaces macros in every element of ss, returning a new slice.
func (v Values) SubstituteAll(ss []string) []string {
	out := make([]string, len(ss))
	r := v.replacer()
	for i, s := range ss {
		out[i] = r.Replace(s)
	}
	return out
}

// SubstituteEnv replaces macros in every value (not key) of env, returning a
// new map.
func (v Values) SubstituteEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	r := v.replacer()
	for k, val := range env {
		out[k] = r.Replace(val)
	}
	return out
}
