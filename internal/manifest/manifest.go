// Package manifest composes the Kubernetes documents that run a classified
// application: a Deployment, a ClusterIP Service, a ConfigMap and, when
// requested, a HorizontalPodAutoscaler and a TLS Ingress.
package manifest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/utils/ptr"

	"github.com/splax/manifestor/internal/classify"
)

const (
	LabelApp       = "app"
	LabelManagedBy = "app.kubernetes.io/managed-by"
	ManagedBy      = "manifestor"

	DefaultNamespace = "default"
	ServicePort      = 80
	RuntimeUID       = 1000

	ClusterIssuerAnnotation = "cert-manager.io/cluster-issuer"
	DefaultClusterIssuer    = "letsencrypt-prod"

	DefaultCPUUtilization    = 70
	DefaultMemoryUtilization = 80
	maxReplicasFactor        = 3
)

// ErrInvalidParams is returned when DeploymentParams cannot produce valid
// documents.
var ErrInvalidParams = errors.New("manifest: invalid deployment parameters")

// defaultResources are requests and limits before ResourceScale is applied.
var defaultResources = struct {
	requests, limits map[corev1.ResourceName]string
}{
	requests: map[corev1.ResourceName]string{corev1.ResourceCPU: "100m", corev1.ResourceMemory: "128Mi"},
	limits:   map[corev1.ResourceName]string{corev1.ResourceCPU: "500m", corev1.ResourceMemory: "512Mi"},
}

// DeploymentParams are the user-facing knobs of a manifest set.
type DeploymentParams struct {
	AppName         string  `json:"appName" yaml:"appName"`
	Replicas        int32   `json:"replicas" yaml:"replicas"`
	Namespace       string  `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Domain          string  `json:"domain,omitempty" yaml:"domain,omitempty"`
	Autoscale       bool    `json:"autoscale" yaml:"autoscale"`
	Image           string  `json:"image,omitempty" yaml:"image,omitempty"`
	ResourceScale   float64 `json:"resourceScale,omitempty" yaml:"resourceScale,omitempty"`
	HealthCheckPath string  `json:"healthCheckPath,omitempty" yaml:"healthCheckPath,omitempty"`
}

// WithDefaults fills unset optional fields.
func (p DeploymentParams) WithDefaults() DeploymentParams {
	p.AppName = strings.TrimSpace(p.AppName)
	p.Domain = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(p.Domain), "."))
	if strings.TrimSpace(p.Namespace) == "" {
		p.Namespace = DefaultNamespace
	}
	if strings.TrimSpace(p.Image) == "" && p.AppName != "" {
		p.Image = p.AppName + ":latest"
	}
	if p.ResourceScale == 0 {
		p.ResourceScale = 1
	}
	if strings.TrimSpace(p.HealthCheckPath) == "" {
		p.HealthCheckPath = classify.DefaultHealthCheckPath
	}
	return p
}

// Validate reports the first parameter that cannot be rendered.
func (p DeploymentParams) Validate() error {
	if errs := validation.IsDNS1123Label(p.AppName); len(errs) > 0 {
		return fmt.Errorf("%w: appName %q: %s", ErrInvalidParams, p.AppName, strings.Join(errs, "; "))
	}
	if p.Replicas < 1 {
		return fmt.Errorf("%w: replicas must be at least 1, got %d", ErrInvalidParams, p.Replicas)
	}
	if errs := validation.IsDNS1123Label(p.Namespace); len(errs) > 0 {
		return fmt.Errorf("%w: namespace %q: %s", ErrInvalidParams, p.Namespace, strings.Join(errs, "; "))
	}
	if p.Domain != "" {
		if errs := validation.IsDNS1123Subdomain(p.Domain); len(errs) > 0 {
			return fmt.Errorf("%w: domain %q: %s", ErrInvalidParams, p.Domain, strings.Join(errs, "; "))
		}
	}
	if p.ResourceScale <= 0 {
		return fmt.Errorf("%w: resourceScale must be positive, got %v", ErrInvalidParams, p.ResourceScale)
	}
	if !strings.HasPrefix(p.HealthCheckPath, "/") {
		return fmt.Errorf("%w: healthCheckPath must be absolute, got %q", ErrInvalidParams, p.HealthCheckPath)
	}
	return nil
}

// Compose builds the manifest set for c. The returned set has already passed
// Validate.
func Compose(c classify.Classification, params DeploymentParams) (Set, error) {
	p := params.WithDefaults()
	if err := p.Validate(); err != nil {
		return Set{}, err
	}
	port := c.Port
	if port <= 0 || port > 65535 {
		port = classify.DefaultPort
	}

	selector := map[string]string{LabelApp: p.AppName}
	meta := func(name string) metav1.ObjectMeta {
		return metav1.ObjectMeta{
			Name:      name,
			Namespace: p.Namespace,
			Labels:    map[string]string{LabelApp: p.AppName, LabelManagedBy: ManagedBy},
		}
	}

	set := Set{}
	set.ConfigMap = &corev1.ConfigMap{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "ConfigMap"},
		ObjectMeta: meta(ConfigMapName(p.AppName)),
		Data:       map[string]string{},
	}

	set.Deployment = &appsv1.Deployment{
		TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: meta(p.AppName),
		Spec: appsv1.DeploymentSpec{
			Replicas:             ptr.To(p.Replicas),
			RevisionHistoryLimit: ptr.To(int32(5)),
			Selector:             &metav1.LabelSelector{MatchLabels: copyLabels(selector)},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: copyLabels(selector)},
				Spec: corev1.PodSpec{
					SecurityContext: &corev1.PodSecurityContext{
						RunAsNonRoot: ptr.To(true),
						RunAsUser:    ptr.To(int64(RuntimeUID)),
						FSGroup:      ptr.To(int64(RuntimeUID)),
					},
					Containers: []corev1.Container{buildContainer(p, port)},
				},
			},
		},
	}

	set.Service = &corev1.Service{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: meta(p.AppName),
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: copyLabels(selector),
			Ports: []corev1.ServicePort{{
				Name:       "http",
				Port:       ServicePort,
				TargetPort: intstr.FromInt32(int32(port)),
				Protocol:   corev1.ProtocolTCP,
			}},
		},
	}

	if p.Autoscale {
		set.HPA = buildHPA(meta(p.AppName), p.Replicas)
	}
	if p.Domain != "" {
		set.Ingress = buildIngress(meta(p.AppName), p.Domain)
	}

	if err := set.Validate(); err != nil {
		return Set{}, err
	}
	return set, nil
}

// ConfigMapName is the ConfigMap every container loads its environment from.
func ConfigMapName(app string) string {
	return app + "-config"
}

// TLSSecretName is the secret cert-manager populates for the ingress host.
func TLSSecretName(app string) string {
	return app + "-tls"
}

func buildContainer(p DeploymentParams, port int) corev1.Container {
	probe := func(initialDelay, period int32) *corev1.Probe {
		return &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				HTTPGet: &corev1.HTTPGetAction{
					Path: p.HealthCheckPath,
					Port: intstr.FromInt32(int32(port)),
				},
			},
			InitialDelaySeconds: initialDelay,
			PeriodSeconds:       period,
			FailureThreshold:    6,
		}
	}
	return corev1.Container{
		Name:            p.AppName,
		Image:           p.Image,
		ImagePullPolicy: corev1.PullIfNotPresent,
		Ports: []corev1.ContainerPort{{
			Name:          "http",
			ContainerPort: int32(port),
			Protocol:      corev1.ProtocolTCP,
		}},
		Env: []corev1.EnvVar{{
			Name:  "PORT",
			Value: strconv.Itoa(port),
		}},
		EnvFrom: []corev1.EnvFromSource{{
			ConfigMapRef: &corev1.ConfigMapEnvSource{
				LocalObjectReference: corev1.LocalObjectReference{Name: ConfigMapName(p.AppName)},
			},
		}},
		Resources: corev1.ResourceRequirements{
			Requests: scaledResources(defaultResources.requests, p.ResourceScale),
			Limits:   scaledResources(defaultResources.limits, p.ResourceScale),
		},
		ReadinessProbe: probe(5, 10),
		LivenessProbe:  probe(20, 20),
		SecurityContext: &corev1.SecurityContext{
			AllowPrivilegeEscalation: ptr.To(false),
		},
	}
}

func scaledResources(base map[corev1.ResourceName]string, scale float64) corev1.ResourceList {
	out := corev1.ResourceList{}
	for name, value := range base {
		q := resource.MustParse(value)
		if scale != 1 {
			q = scaleQuantity(name, q, scale)
		}
		out[name] = q
	}
	return out
}

func scaleQuantity(name corev1.ResourceName, q resource.Quantity, scale float64) resource.Quantity {
	if name == corev1.ResourceCPU {
		return *resource.NewMilliQuantity(int64(float64(q.MilliValue())*scale), resource.DecimalSI)
	}
	return *resource.NewQuantity(int64(float64(q.Value())*scale), resource.BinarySI)
}

func buildHPA(meta metav1.ObjectMeta, replicas int32) *autoscalingv2.HorizontalPodAutoscaler {
	utilization := func(name corev1.ResourceName, pct int32) autoscalingv2.MetricSpec {
		return autoscalingv2.MetricSpec{
			Type: autoscalingv2.ResourceMetricSourceType,
			Resource: &autoscalingv2.ResourceMetricSource{
				Name: name,
				Target: autoscalingv2.MetricTarget{
					Type:               autoscalingv2.UtilizationMetricType,
					AverageUtilization: ptr.To(pct),
				},
			},
		}
	}
	return &autoscalingv2.HorizontalPodAutoscaler{
		TypeMeta:   metav1.TypeMeta{APIVersion: "autoscaling/v2", Kind: "HorizontalPodAutoscaler"},
		ObjectMeta: meta,
		Spec: autoscalingv2.HorizontalPodAutoscalerSpec{
			ScaleTargetRef: autoscalingv2.CrossVersionObjectReference{
				APIVersion: "apps/v1",
				Kind:       "Deployment",
				Name:       meta.Name,
			},
			MinReplicas: ptr.To(replicas),
			MaxReplicas: replicas * maxReplicasFactor,
			Metrics: []autoscalingv2.MetricSpec{
				utilization(corev1.ResourceCPU, DefaultCPUUtilization),
				utilization(corev1.ResourceMemory, DefaultMemoryUtilization),
			},
		},
	}
}

func buildIngress(meta metav1.ObjectMeta, domain string) *networkingv1.Ingress {
	meta.Annotations = map[string]string{ClusterIssuerAnnotation: DefaultClusterIssuer}
	return &networkingv1.Ingress{
		TypeMeta:   metav1.TypeMeta{APIVersion: "networking.k8s.io/v1", Kind: "Ingress"},
		ObjectMeta: meta,
		Spec: networkingv1.IngressSpec{
			TLS: []networkingv1.IngressTLS{{
				Hosts:      []string{domain},
				SecretName: TLSSecretName(meta.Name),
			}},
			Rules: []networkingv1.IngressRule{{
				Host: domain,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     "/",
							PathType: ptr.To(networkingv1.PathTypePrefix),
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: meta.Name,
									Port: networkingv1.ServiceBackendPort{Number: ServicePort},
								},
							},
						}},
					},
				},
			}},
		},
	}
}

func copyLabels(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
