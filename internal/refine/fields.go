package refine

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/distribution/reference"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/utils/ptr"

	"github.com/splax/manifestor/internal/classify"
	"github.com/splax/manifestor/internal/manifest"
)

const (
	maxReplicas = 1000
	envPort     = "PORT"
)

type handler func(a *Artifacts, op Operation, v any) error

type field struct {
	ops   []Operation
	value string
	apply handler
}

func (f field) allows(op Operation) bool {
	for _, candidate := range f.ops {
		if candidate == op {
			return true
		}
	}
	return false
}

var (
	setOnly      = []Operation{OpSet}
	setIncrement = []Operation{OpSet, OpIncrement}
	setRemove    = []Operation{OpSet, OpRemove}
	keyed        = []Operation{OpAppend, OpRemove, OpSet}
)

var schema = map[string]field{
	"deployment.replicas":                  {ops: setIncrement, value: "int >= 1", apply: editReplicas},
	"deployment.image":                     {ops: setOnly, value: "image reference", apply: editImage},
	"deployment.resources.requests.cpu":    {ops: setRemove, value: "quantity <= limit", apply: editResource(false, corev1.ResourceCPU)},
	"deployment.resources.requests.memory": {ops: setRemove, value: "quantity <= limit", apply: editResource(false, corev1.ResourceMemory)},
	"deployment.resources.limits.cpu":      {ops: setRemove, value: "quantity >= request", apply: editResource(true, corev1.ResourceCPU)},
	"deployment.resources.limits.memory":   {ops: setRemove, value: "quantity >= request", apply: editResource(true, corev1.ResourceMemory)},
	"deployment.env":                       {ops: keyed, value: "NAME=value", apply: editEnv},
	"deployment.containerPort":             {ops: setIncrement, value: "port 1-65535", apply: editPort},
	"deployment.probes.path":               {ops: setOnly, value: "absolute path", apply: editHealthPath},
	"deployment.labels":                    {ops: []Operation{OpAppend, OpRemove}, value: "key=value", apply: editLabels},
	"service.targetPort":                   {ops: setIncrement, value: "port 1-65535", apply: editPort},
	"service.port":                         {ops: setOnly, value: "port 1-65535", apply: editServicePort},
	"configmap.data":                       {ops: keyed, value: "KEY=value", apply: editConfigData},
	"hpa.enabled":                          {ops: setOnly, value: "bool", apply: editAutoscale},
	"hpa.minReplicas":                      {ops: setIncrement, value: "int >= 1, <= maxReplicas", apply: editHPAReplicas(false)},
	"hpa.maxReplicas":                      {ops: setIncrement, value: "int >= minReplicas", apply: editHPAReplicas(true)},
	"hpa.cpuUtilization":                   {ops: setOnly, value: "percent 1-100", apply: editUtilization(corev1.ResourceCPU)},
	"hpa.memoryUtilization":                {ops: setOnly, value: "percent 1-100", apply: editUtilization(corev1.ResourceMemory)},
	"ingress.host":                         {ops: setRemove, value: "DNS name", apply: editHost},
	"dockerfile.exposedPort":               {ops: setIncrement, value: "port 1-65535", apply: editPort},
	"dockerfile.healthCheckPath":           {ops: setOnly, value: "absolute path", apply: editHealthPath},
	"dockerfile.baseImageBuilder":          {ops: setOnly, value: "image reference", apply: editBaseImage(false)},
	"dockerfile.baseImageRuntime":          {ops: setOnly, value: "image reference", apply: editBaseImage(true)},
	"dockerfile.runtimeVersion":            {ops: setOnly, value: "version", apply: editRuntimeVersion},
	"dockerfile.startCommand":              {ops: setOnly, value: "command", apply: editStartCommand},
	"dockerfile.buildCommand":              {ops: setRemove, value: "command", apply: editBuildCommand},
}

var aliases = map[string]string{
	"replicas":       "deployment.replicas",
	"image":          "deployment.image",
	"port":           "deployment.containerPort",
	"env":            "deployment.env",
	"labels":         "deployment.labels",
	"runtimeversion": "dockerfile.runtimeVersion",
	"healthcheck":    "deployment.probes.path",
}

var schemaIndex = func() map[string]string {
	idx := make(map[string]string, len(schema))
	for path := range schema {
		idx[strings.ToLower(path)] = path
	}
	return idx
}()

func intValue(op Operation, current int64, v any) (int64, error) {
	if op == OpIncrement && v == nil {
		return current + 1, nil
	}
	n, err := toInt(v)
	if err != nil {
		return 0, err
	}
	if op == OpIncrement {
		return current + n, nil
	}
	return n, nil
}

func editReplicas(a *Artifacts, op Operation, v any) error {
	d := a.Manifests.Deployment
	current := int64(1)
	if d.Spec.Replicas != nil {
		current = int64(*d.Spec.Replicas)
	}
	n, err := intValue(op, current, v)
	if err != nil {
		return err
	}
	if n < 1 || n > maxReplicas {
		return fmt.Errorf("replicas must be between 1 and %d, got %d", maxReplicas, n)
	}
	d.Spec.Replicas = ptr.To(int32(n))
	if hpa := a.Manifests.HPA; hpa != nil {
		hpa.Spec.MinReplicas = ptr.To(int32(n))
		if hpa.Spec.MaxReplicas < int32(n) {
			hpa.Spec.MaxReplicas = int32(n) * 3
		}
	}
	return nil
}

func validImage(v any) (string, error) {
	s, err := toString(v)
	if err != nil {
		return "", err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("image must not be empty")
	}
	if _, err := reference.ParseNormalizedNamed(s); err != nil {
		return "", fmt.Errorf("invalid image reference %q: %v", s, err)
	}
	return s, nil
}

func editImage(a *Artifacts, _ Operation, v any) error {
	image, err := validImage(v)
	if err != nil {
		return err
	}
	a.Manifests.Container().Image = image
	return nil
}

func editResource(limit bool, name corev1.ResourceName) handler {
	return func(a *Artifacts, op Operation, v any) error {
		res := &a.Manifests.Container().Resources
		list := &res.Requests
		if limit {
			list = &res.Limits
		}
		if op == OpRemove {
			delete(*list, name)
			return nil
		}
		s, err := toString(v)
		if err != nil {
			return err
		}
		q, err := resource.ParseQuantity(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid %s quantity %q: %v", name, s, err)
		}
		if q.Sign() <= 0 {
			return fmt.Errorf("%s quantity must be positive, got %s", name, q.String())
		}
		if *list == nil {
			*list = corev1.ResourceList{}
		}
		(*list)[name] = q
		return nil
	}
}

func editEnv(a *Artifacts, op Operation, v any) error {
	c := a.Manifests.Container()
	if op == OpRemove {
		name, err := toKey(v)
		if err != nil {
			return err
		}
		if name == envPort {
			return errors.New("PORT follows the container port, edit deployment.containerPort instead")
		}
		kept := c.Env[:0]
		for _, env := range c.Env {
			if env.Name != name {
				kept = append(kept, env)
			}
		}
		c.Env = kept
		return nil
	}
	name, value, err := toPair(v)
	if err != nil {
		return err
	}
	if errs := validation.IsEnvVarName(name); len(errs) > 0 {
		return fmt.Errorf("invalid env name %q: %s", name, strings.Join(errs, "; "))
	}
	if name == envPort {
		return errors.New("PORT follows the container port, edit deployment.containerPort instead")
	}
	for i := range c.Env {
		if c.Env[i].Name == name {
			c.Env[i].Value = value
			c.Env[i].ValueFrom = nil
			return nil
		}
	}
	c.Env = append(c.Env, corev1.EnvVar{Name: name, Value: value})
	return nil
}

func editPort(a *Artifacts, op Operation, v any) error {
	old := a.Manifests.ContainerPort()
	n, err := intValue(op, int64(old), v)
	if err != nil {
		return err
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", n)
	}
	setPort(a, old, int(n))
	return nil
}

// setPort moves every reference to the application port from old to port.
func setPort(a *Artifacts, old, port int) {
	c := a.Manifests.Container()
	c.Ports[0].ContainerPort = int32(port)
	for i := range c.Env {
		if c.Env[i].Name == envPort {
			c.Env[i].Value = strconv.Itoa(port)
		}
	}
	for _, probe := range []*corev1.Probe{c.LivenessProbe, c.ReadinessProbe, c.StartupProbe} {
		if probe != nil && probe.HTTPGet != nil {
			probe.HTTPGet.Port = intstr.FromInt32(int32(port))
		}
	}
	if svc := a.Manifests.Service; svc != nil && len(svc.Spec.Ports) > 0 {
		svc.Spec.Ports[0].TargetPort = intstr.FromInt32(int32(port))
	}
	a.Dockerfile.ExposedPort = port
	a.Dockerfile.StartCommand = classify.RetargetPort(a.Dockerfile.StartCommand, old, port)
}

// healthPath keeps probe paths safe to place unquoted in a shell HEALTHCHECK.
var healthPath = regexp.MustCompile(`^/[A-Za-z0-9._~/-]*$`)

func editHealthPath(a *Artifacts, _ Operation, v any) error {
	path, err := toString(v)
	if err != nil {
		return err
	}
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("health check path must be absolute, got %q", path)
	}
	if !healthPath.MatchString(path) {
		return fmt.Errorf("health check path %q may only contain letters, digits and . _ ~ / -", path)
	}
	c := a.Manifests.Container()
	for _, probe := range []*corev1.Probe{c.LivenessProbe, c.ReadinessProbe, c.StartupProbe} {
		if probe != nil && probe.HTTPGet != nil {
			probe.HTTPGet.Path = path
		}
	}
	a.Dockerfile.HealthCheckPath = path
	return nil
}

func editLabels(a *Artifacts, op Operation, v any) error {
	var key, value string
	var err error
	if op == OpRemove {
		key, err = toKey(v)
	} else {
		key, value, err = toPair(v)
	}
	if err != nil {
		return err
	}
	if key == manifest.LabelApp {
		return errors.New("the app label selects pods and cannot be edited")
	}
	if errs := validation.IsQualifiedName(key); len(errs) > 0 {
		return fmt.Errorf("invalid label key %q: %s", key, strings.Join(errs, "; "))
	}
	if op != OpRemove {
		if errs := validation.IsValidLabelValue(value); len(errs) > 0 {
			return fmt.Errorf("invalid label value %q: %s", value, strings.Join(errs, "; "))
		}
	}
	for _, doc := range a.Manifests.Documents() {
		obj, ok := doc.Object.(metav1.Object)
		if !ok {
			continue
		}
		labels := obj.GetLabels()
		if labels == nil {
			labels = map[string]string{}
		}
		if op == OpRemove {
			delete(labels, key)
		} else {
			labels[key] = value
		}
		obj.SetLabels(labels)
	}
	return nil
}

func editServicePort(a *Artifacts, _ Operation, v any) error {
	n, err := toInt(v)
	if err != nil {
		return err
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", n)
	}
	svc := a.Manifests.Service
	if len(svc.Spec.Ports) == 0 {
		return errors.New("service has no ports")
	}
	svc.Spec.Ports[0].Port = int32(n)
	if ing := a.Manifests.Ingress; ing != nil {
		for i := range ing.Spec.Rules {
			if ing.Spec.Rules[i].HTTP == nil {
				continue
			}
			for j := range ing.Spec.Rules[i].HTTP.Paths {
				if backend := ing.Spec.Rules[i].HTTP.Paths[j].Backend.Service; backend != nil && backend.Name == svc.Name {
					backend.Port.Number = int32(n)
				}
			}
		}
	}
	return nil
}

func editConfigData(a *Artifacts, op Operation, v any) error {
	cm := a.Manifests.ConfigMap
	if op == OpRemove {
		key, err := toKey(v)
		if err != nil {
			return err
		}
		delete(cm.Data, key)
		return nil
	}
	key, value, err := toPair(v)
	if err != nil {
		return err
	}
	if errs := validation.IsConfigMapKey(key); len(errs) > 0 {
		return fmt.Errorf("invalid configmap key %q: %s", key, strings.Join(errs, "; "))
	}
	if cm.Data == nil {
		cm.Data = map[string]string{}
	}
	cm.Data[key] = value
	return nil
}

func editAutoscale(a *Artifacts, _ Operation, v any) error {
	enabled, err := toBool(v)
	if err != nil {
		return err
	}
	a.Manifests.SetAutoscale(enabled)
	return nil
}

func requireHPA(a *Artifacts) (*autoscalingv2.HorizontalPodAutoscaler, error) {
	if a.Manifests.HPA == nil {
		return nil, errors.New("no hpa in this manifest set, set hpa.enabled first")
	}
	return a.Manifests.HPA, nil
}

func editHPAReplicas(maximum bool) handler {
	return func(a *Artifacts, op Operation, v any) error {
		hpa, err := requireHPA(a)
		if err != nil {
			return err
		}
		current := int64(1)
		if maximum {
			current = int64(hpa.Spec.MaxReplicas)
		} else if hpa.Spec.MinReplicas != nil {
			current = int64(*hpa.Spec.MinReplicas)
		}
		n, err := intValue(op, current, v)
		if err != nil {
			return err
		}
		if n < 1 || n > maxReplicas {
			return fmt.Errorf("replicas must be between 1 and %d, got %d", maxReplicas, n)
		}
		if maximum {
			hpa.Spec.MaxReplicas = int32(n)
		} else {
			hpa.Spec.MinReplicas = ptr.To(int32(n))
		}
		return nil
	}
}

func editUtilization(name corev1.ResourceName) handler {
	return func(a *Artifacts, _ Operation, v any) error {
		hpa, err := requireHPA(a)
		if err != nil {
			return err
		}
		n, err := toInt(v)
		if err != nil {
			return err
		}
		if n < 1 || n > 100 {
			return fmt.Errorf("utilization must be between 1 and 100, got %d", n)
		}
		target := autoscalingv2.MetricTarget{Type: autoscalingv2.UtilizationMetricType, AverageUtilization: ptr.To(int32(n))}
		for i := range hpa.Spec.Metrics {
			if m := hpa.Spec.Metrics[i].Resource; m != nil && m.Name == name {
				m.Target = target
				return nil
			}
		}
		hpa.Spec.Metrics = append(hpa.Spec.Metrics, autoscalingv2.MetricSpec{
			Type:     autoscalingv2.ResourceMetricSourceType,
			Resource: &autoscalingv2.ResourceMetricSource{Name: name, Target: target},
		})
		return nil
	}
}

func editHost(a *Artifacts, op Operation, v any) error {
	if op == OpRemove {
		a.Manifests.SetDomain("")
		return nil
	}
	host, err := toString(v)
	if err != nil {
		return err
	}
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	if errs := validation.IsDNS1123Subdomain(host); len(errs) > 0 {
		return fmt.Errorf("invalid host %q: %s", host, strings.Join(errs, "; "))
	}
	a.Manifests.SetDomain(host)
	return nil
}

func editBaseImage(runtime bool) handler {
	return func(a *Artifacts, _ Operation, v any) error {
		image, err := validImage(v)
		if err != nil {
			return err
		}
		if runtime {
			a.Dockerfile.BaseImageRuntime = image
		} else {
			a.Dockerfile.BaseImageBuilder = image
		}
		return nil
	}
}

var runtimeVersionPattern = regexp.MustCompile(`^\d+(\.\d+){0,2}$`)

func editRuntimeVersion(a *Artifacts, _ Operation, v any) error {
	version, err := toString(v)
	if err != nil {
		return err
	}
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")
	if !runtimeVersionPattern.MatchString(version) {
		return fmt.Errorf("invalid runtime version %q", version)
	}
	a.Dockerfile.Spec = a.Dockerfile.Spec.WithRuntimeVersion(version)
	return nil
}

func editStartCommand(a *Artifacts, _ Operation, v any) error {
	cmd, err := toString(v)
	if err != nil {
		return err
	}
	cmd = strings.TrimSpace(cmd)
	if cmd == "" || strings.ContainsAny(cmd, "\r\n") {
		return errors.New("start command must be a single non-empty line")
	}
	a.Dockerfile.StartCommand = cmd
	return nil
}

func editBuildCommand(a *Artifacts, op Operation, v any) error {
	if op == OpRemove {
		a.Dockerfile.BuildCommand = ""
		return nil
	}
	cmd, err := toString(v)
	if err != nil {
		return err
	}
	cmd = strings.TrimSpace(cmd)
	if cmd == "" || strings.ContainsAny(cmd, "\r\n") {
		return errors.New("build command must be a single non-empty line")
	}
	a.Dockerfile.BuildCommand = cmd
	return nil
}
