package tsm

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/torchdeploy/tsm/macro"
)

// elasticLauncherModule is the module the platform's launcher binary
// (conceptually "python -m") runs to bootstrap rendezvous-based elastic
// training.
const elasticLauncherModule = "torchelastic.distributed.launch"

// elasticLauncherEntrypoint is the effective entrypoint every ElasticRole
// runs through.
const elasticLauncherEntrypoint = "python"

// ElasticRole is a Role whose Runs rewrites args so the role launches
// through the platform's elastic launcher instead of running the user's
// script directly. See spec §4.1.
type ElasticRole struct {
	Role
	launchFlags []string
}

// NewElasticRole builds an ElasticRole, precomputing its launcher flags
// from launchKwargs per §4.1: rdzv_backend defaults to "etcd" and rdzv_id
// to the app_id macro, unless the caller supplies them.
//
// launchKwargs values may be string, int, or bool. A bool true becomes a
// bare "--flag" presence token; false contributes nothing; anything else
// becomes "--flag" followed by its string form.
func NewElasticRole(name string, launchKwargs map[string]interface{}) *ElasticRole {
	if _, ok := launchKwargs["rdzv_backend"]; !ok {
		if launchKwargs == nil {
			launchKwargs = map[string]interface{}{}
		}
		launchKwargs["rdzv_backend"] = "etcd"
	}
	if _, ok := launchKwargs["rdzv_id"]; !ok {
		launchKwargs["rdzv_id"] = macro.AppID
	}

	role := &ElasticRole{}
	role.Name = name
	role.Env = map[string]string{}
	role.NumReplicas = 1
	role.launchFlags = flattenLaunchKwargs(launchKwargs)
	return role
}

// canonicalLaunchFlagOrder is the normative argument order from spec §6:
// known flags always render in this order; any other keys the caller
// passes follow, alphabetically, so output stays deterministic.
var canonicalLaunchFlagOrder = []string{"nnodes", "max_restarts", "no_python", "rdzv_backend", "rdzv_id"}

// flattenLaunchKwargs renders launchKwargs into tokens per the mapping
// rules of §4.1, in the normative order of §6.
func flattenLaunchKwargs(kwargs map[string]interface{}) []string {
	seen := make(map[string]bool, len(kwargs))
	names := make([]string, 0, len(kwargs))
	for _, k := range canonicalLaunchFlagOrder {
		if _, ok := kwargs[k]; ok {
			names = append(names, k)
			seen[k] = true
		}
	}

	var extra []string
	for k := range kwargs {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sortStrings(extra)
	names = append(names, extra...)

	var flags []string
	for _, k := range names {
		v := kwargs[k]
		switch val := v.(type) {
		case bool:
			if val {
				flags = append(flags, "--"+k)
			}
		case string:
			flags = append(flags, "--"+k, val)
		case int:
			flags = append(flags, "--"+k, strconv.Itoa(val))
		default:
			flags = append(flags, "--"+k, fmt.Sprintf("%v", val))
		}
	}
	return flags
}

// sortStrings is a tiny insertion sort for a handful of flag names; kept
// local since it's only ever used here.
func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}

// Runs rewrites the effective entrypoint/args per §4.1:
//
//	["-m", <launcher module>, <precomputed flags>, "--role", name, <resolved script>, user_args...]
//
// The script is prefixed with the img_root macro unless it's already
// rooted there or is an absolute path.
func (e *ElasticRole) Runs(script string, userArgs []string, env map[string]string) *ElasticRole {
	resolvedScript := script
	if !strings.HasPrefix(script, macro.ImgRoot) && !path.IsAbs(script) {
		resolvedScript = path.Join(macro.ImgRoot, script)
	}

	args := make([]string, 0, 4+len(e.launchFlags)+len(userArgs))
	args = append(args, "-m", elasticLauncherModule)
	args = append(args, e.launchFlags...)
	args = append(args, "--role", e.Name, resolvedScript)
	args = append(args, userArgs...)

	e.Entrypoint = elasticLauncherEntrypoint
	e.Args = args
	if env == nil {
		env = map[string]string{}
	}
	e.Env = env
	return e
}

// On attaches a container and returns the role for chaining.
func (e *ElasticRole) On(c *Container) *ElasticRole {
	e.Role.On(c)
	return e
}

// Replicas sets the replica count and returns the role for chaining.
func (e *ElasticRole) Replicas(n int) *ElasticRole {
	e.Role.Replicas(n)
	return e
}
