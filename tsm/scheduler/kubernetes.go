package scheduler

import (
	"fmt"
	"regexp"
	"time"

	"github.com/inconshreveable/log15"
	apiv1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/torchdeploy/tsm"
	"github.com/torchdeploy/tsm/macro"
)

// renderedCommand is a role's entrypoint/args/env after macro expansion,
// shared by podSpecForRole.
type renderedCommand struct {
	entrypoint string
	args       []string
	env        map[string]string
}

func (r renderedCommand) envVars() []apiv1.EnvVar {
	vars := make([]apiv1.EnvVar, 0, len(r.env))
	for k, v := range r.env {
		vars = append(vars, apiv1.EnvVar{Name: k, Value: v})
	}
	return vars
}

func macroValuesFor(appID string, role *tsm.Role, replicaIndex int) renderedCommand {
	mv := macro.Values{ImgRoot: role.Container.Image, AppID: appID, ReplicaID: fmt.Sprintf("%d", replicaIndex)}
	return renderedCommand{
		entrypoint: mv.Substitute(role.Entrypoint),
		args:       mv.SubstituteAll(role.Args),
		env:        mv.SubstituteEnv(role.Env),
	}
}

// KubernetesConfig points at the cluster a kubernetes backend submits
// pods into.
type KubernetesConfig struct {
	// Namespace pods are created in.
	Namespace string
	// KubeconfigPath, if empty, falls back to in-cluster config.
	KubeconfigPath string
}

// kubernetesBackend is a minimal Scheduler backend proving the contract is
// implementable against a real cluster client: it translates an
// Application's roles into pod specs and resource requests, but does not
// implement pod lifecycle reconciliation (cluster scheduling is out of
// scope for this driver; see spec §1).
type kubernetesBackend struct {
	cfg       KubernetesConfig
	clientset kubernetes.Interface
	logger    log15.Logger
}

// NewKubernetesScheduler builds a Backend that can render Applications as
// pod specs against the given cluster config, in the manner of the
// teacher's own kubernetes scheduler wrapper.
func NewKubernetesScheduler(cfg KubernetesConfig, restConfig *rest.Config, logger log15.Logger) (Backend, error) {
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log15.New()
	}
	logger = logger.New("scheduler", "kubernetes", "namespace", cfg.Namespace)
	return Wrap(&kubernetesBackend{cfg: cfg, clientset: clientset, logger: logger}), nil
}

func (k *kubernetesBackend) RunOpts() *tsm.RunOpts {
	opts := tsm.NewRunOpts()
	_ = opts.Add("namespace", tsm.StringKind, "kubernetes namespace to submit into", nil, false)
	return opts
}

// resourcesToRequests translates a role's Resources into the Requests a
// pod's container spec carries, following the teacher's
// generateResourceRequests: CPU in cores, memory in MiB, GPUs as an
// extended resource.
func resourcesToRequests(r *tsm.Resources) apiv1.ResourceList {
	if r == nil {
		return apiv1.ResourceList{}
	}
	list := apiv1.ResourceList{
		apiv1.ResourceCPU:    *resource.NewQuantity(int64(r.CPU), resource.DecimalSI),
		apiv1.ResourceMemory: *resource.NewQuantity(int64(r.MemMB)*1024*1024, resource.BinarySI),
	}
	if r.GPU > 0 {
		list[apiv1.ResourceName("nvidia.com/gpu")] = *resource.NewQuantity(int64(r.GPU), resource.DecimalSI)
	}
	return list
}

// podSpecForRole renders a role as a pod spec, applying the same macro
// substitutions the local scheduler applies (img_root resolves to the
// container's image reference itself here, since kubernetes — not this
// driver — is responsible for pulling it).
func podSpecForRole(appID string, role *tsm.Role, replicaIndex int) apiv1.PodSpec {
	mv := macroValuesFor(appID, role, replicaIndex)
	container := apiv1.Container{
		Name:    role.Name,
		Image:   role.Container.Image,
		Command: []string{mv.entrypoint},
		Args:    mv.args,
		Env:     mv.envVars(),
		Resources: apiv1.ResourceRequirements{
			Requests: resourcesToRequests(role.Container.Resources),
			Limits:   resourcesToRequests(role.Container.Resources),
		},
	}
	return apiv1.PodSpec{RestartPolicy: apiv1.RestartPolicyNever, Containers: []apiv1.Container{container}}
}

func (k *kubernetesBackend) doSubmit(app *tsm.Application, cfg *tsm.RunConfig) (string, error) {
	return "", &tsm.ValueError{Op: "kubernetesBackend.Submit", Reason: "cluster submission is not implemented; use SubmitDryRun to inspect the rendered pod specs"}
}

func (k *kubernetesBackend) doSubmitDryRun(app *tsm.Application, cfg *tsm.RunConfig) (tsm.AppDryRunInfo, error) {
	specs := make(map[string][]apiv1.PodSpec, len(app.Roles))
	for _, role := range app.Roles {
		n := role.NumReplicas
		if n < 1 {
			n = 1
		}
		for r := 0; r < n; r++ {
			specs[role.Name] = append(specs[role.Name], podSpecForRole("<app_id>", role, r))
		}
	}
	formatter := func(v interface{}) string {
		rendered, ok := v.(map[string][]apiv1.PodSpec)
		if !ok {
			return fmt.Sprintf("%v", v)
		}
		out := ""
		for name, pods := range rendered {
			out += fmt.Sprintf("role: %s (%d pods)\n", name, len(pods))
		}
		return out
	}
	return tsm.AppDryRunInfo{Request: specs, Formatter: formatter}, nil
}

func (k *kubernetesBackend) Describe(appID string) (*tsm.DescribeAppResponse, error) {
	return nil, &tsm.ValueError{Op: "kubernetesBackend.Describe", Reason: "cluster reconciliation is not implemented"}
}

func (k *kubernetesBackend) cancelExisting(appID string) error {
	return &tsm.ValueError{Op: "kubernetesBackend.Cancel", Reason: "cluster reconciliation is not implemented"}
}

func (k *kubernetesBackend) LogIter(appID, roleName string, idx int, regex *regexp.Regexp, since, until *time.Time) (LineIterator, error) {
	return nil, &tsm.ValueError{Op: "kubernetesBackend.LogIter", Reason: "cluster log retrieval is not implemented"}
}
