package manifest

import (
	"errors"
	"fmt"
	"reflect"

	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// ErrInvariant is returned when documents in a set disagree with each other.
var ErrInvariant = errors.New("manifest: invariant violated")

// Artifact filenames, in document order.
const (
	FileDeployment = "k8s-deployment.yaml"
	FileService    = "k8s-service.yaml"
	FileConfigMap  = "k8s-configmap.yaml"
	FileHPA        = "k8s-hpa.yaml"
	FileIngress    = "k8s-ingress.yaml"
)

// Set is the ordered collection of documents for one application. HPA and
// Ingress are nil when not requested.
type Set struct {
	Deployment *appsv1.Deployment                     `json:"deployment,omitempty"`
	Service    *corev1.Service                        `json:"service,omitempty"`
	ConfigMap  *corev1.ConfigMap                      `json:"configmap,omitempty"`
	HPA        *autoscalingv2.HorizontalPodAutoscaler `json:"hpa,omitempty"`
	Ingress    *networkingv1.Ingress                  `json:"ingress,omitempty"`
}

// Document is one named member of a Set.
type Document struct {
	Name     string
	Filename string
	Object   runtime.Object
}

// Documents lists the present documents in their fixed order.
func (s Set) Documents() []Document {
	docs := make([]Document, 0, 5)
	if s.Deployment != nil {
		docs = append(docs, Document{Name: "deployment", Filename: FileDeployment, Object: s.Deployment})
	}
	if s.Service != nil {
		docs = append(docs, Document{Name: "service", Filename: FileService, Object: s.Service})
	}
	if s.ConfigMap != nil {
		docs = append(docs, Document{Name: "configmap", Filename: FileConfigMap, Object: s.ConfigMap})
	}
	if s.HPA != nil {
		docs = append(docs, Document{Name: "hpa", Filename: FileHPA, Object: s.HPA})
	}
	if s.Ingress != nil {
		docs = append(docs, Document{Name: "ingress", Filename: FileIngress, Object: s.Ingress})
	}
	return docs
}

// DeepCopy returns a set sharing no memory with s.
func (s Set) DeepCopy() Set {
	return Set{
		Deployment: s.Deployment.DeepCopy(),
		Service:    s.Service.DeepCopy(),
		ConfigMap:  s.ConfigMap.DeepCopy(),
		HPA:        s.HPA.DeepCopy(),
		Ingress:    s.Ingress.DeepCopy(),
	}
}

// AppName returns the application name the set was composed for.
func (s Set) AppName() string {
	if s.Deployment == nil {
		return ""
	}
	return s.Deployment.Name
}

// Container returns the application container, or nil for an empty set.
func (s Set) Container() *corev1.Container {
	if s.Deployment == nil || len(s.Deployment.Spec.Template.Spec.Containers) == 0 {
		return nil
	}
	return &s.Deployment.Spec.Template.Spec.Containers[0]
}

// ContainerPort returns the first declared container port.
func (s Set) ContainerPort() int {
	c := s.Container()
	if c == nil || len(c.Ports) == 0 {
		return 0
	}
	return int(c.Ports[0].ContainerPort)
}

// Validate checks the relations between documents that must hold for the set
// to deploy.
func (s Set) Validate() error {
	if s.Deployment == nil || s.Service == nil || s.ConfigMap == nil {
		return fmt.Errorf("%w: deployment, service and configmap are required", ErrInvariant)
	}
	app := s.Deployment.Name
	for _, doc := range s.Documents() {
		obj, ok := doc.Object.(metav1.Object)
		if !ok {
			continue
		}
		if got := obj.GetLabels()[LabelApp]; got != app {
			return fmt.Errorf("%w: %s label %s=%q, want %q", ErrInvariant, doc.Name, LabelApp, got, app)
		}
	}

	spec := s.Deployment.Spec
	if spec.Replicas == nil || *spec.Replicas < 1 {
		return fmt.Errorf("%w: deployment replicas must be at least 1", ErrInvariant)
	}
	if spec.Selector == nil || !reflect.DeepEqual(spec.Selector.MatchLabels, spec.Template.Labels) {
		return fmt.Errorf("%w: deployment selector does not match template labels", ErrInvariant)
	}
	if !reflect.DeepEqual(s.Service.Spec.Selector, spec.Template.Labels) {
		return fmt.Errorf("%w: service selector does not match deployment template labels", ErrInvariant)
	}

	c := s.Container()
	if c == nil || len(c.Ports) == 0 {
		return fmt.Errorf("%w: deployment has no container port", ErrInvariant)
	}
	port := c.Ports[0].ContainerPort
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: container port %d out of range", ErrInvariant, port)
	}
	if len(s.Service.Spec.Ports) == 0 {
		return fmt.Errorf("%w: service has no ports", ErrInvariant)
	}
	svcPort := s.Service.Spec.Ports[0]
	if svcPort.TargetPort.IntValue() != int(port) {
		return fmt.Errorf("%w: service targetPort %s does not match containerPort %d", ErrInvariant, svcPort.TargetPort.String(), port)
	}
	probes := []struct {
		name  string
		probe *corev1.Probe
	}{{"liveness", c.LivenessProbe}, {"readiness", c.ReadinessProbe}}
	for _, p := range probes {
		if p.probe == nil || p.probe.HTTPGet == nil {
			continue
		}
		if p.probe.HTTPGet.Port.IntValue() != int(port) {
			return fmt.Errorf("%w: %s probe port %s does not match containerPort %d", ErrInvariant, p.name, p.probe.HTTPGet.Port.String(), port)
		}
	}
	for _, resource := range []corev1.ResourceName{corev1.ResourceCPU, corev1.ResourceMemory} {
		req, hasReq := c.Resources.Requests[resource]
		limit, hasLimit := c.Resources.Limits[resource]
		if hasReq && hasLimit && req.Cmp(limit) > 0 {
			return fmt.Errorf("%w: %s request %s exceeds limit %s", ErrInvariant, resource, req.String(), limit.String())
		}
	}

	if s.HPA != nil {
		hpa := s.HPA.Spec
		if hpa.ScaleTargetRef.Name != app {
			return fmt.Errorf("%w: hpa targets %q, want %q", ErrInvariant, hpa.ScaleTargetRef.Name, app)
		}
		if hpa.MinReplicas == nil || *hpa.MinReplicas < 1 {
			return fmt.Errorf("%w: hpa minReplicas must be at least 1", ErrInvariant)
		}
		if *hpa.MinReplicas > hpa.MaxReplicas {
			return fmt.Errorf("%w: hpa minReplicas %d exceeds maxReplicas %d", ErrInvariant, *hpa.MinReplicas, hpa.MaxReplicas)
		}
		for _, m := range hpa.Metrics {
			if m.Resource == nil || m.Resource.Target.AverageUtilization == nil {
				continue
			}
			if u := *m.Resource.Target.AverageUtilization; u < 1 || u > 100 {
				return fmt.Errorf("%w: hpa %s utilization %d out of range", ErrInvariant, m.Resource.Name, u)
			}
		}
	}

	if s.Ingress != nil {
		for _, rule := range s.Ingress.Spec.Rules {
			if rule.HTTP == nil {
				continue
			}
			for _, path := range rule.HTTP.Paths {
				backend := path.Backend.Service
				if backend == nil {
					continue
				}
				if backend.Name != s.Service.Name || backend.Port.Number != svcPort.Port {
					return fmt.Errorf("%w: ingress backend %s:%d does not match service %s:%d", ErrInvariant, backend.Name, backend.Port.Number, s.Service.Name, svcPort.Port)
				}
			}
		}
	}
	return nil
}

func (s Set) childMeta() metav1.ObjectMeta {
	meta := metav1.ObjectMeta{Name: s.Deployment.Name, Namespace: s.Deployment.Namespace}
	meta.Labels = copyLabels(s.Deployment.Labels)
	return meta
}

// SetAutoscale adds an HPA sized from the current replica count, or removes
// it. Enabling an already present HPA leaves it untouched.
func (s *Set) SetAutoscale(enabled bool) {
	if !enabled {
		s.HPA = nil
		return
	}
	if s.HPA != nil || s.Deployment == nil {
		return
	}
	replicas := int32(1)
	if s.Deployment.Spec.Replicas != nil {
		replicas = *s.Deployment.Spec.Replicas
	}
	s.HPA = buildHPA(s.childMeta(), replicas)
}

// SetDomain points the ingress at domain, creating it when absent. An empty
// domain removes the ingress.
func (s *Set) SetDomain(domain string) {
	if domain == "" {
		s.Ingress = nil
		return
	}
	if s.Deployment == nil {
		return
	}
	if s.Ingress == nil {
		s.Ingress = buildIngress(s.childMeta(), domain)
		if s.Service != nil && len(s.Service.Spec.Ports) > 0 {
			s.Ingress.Spec.Rules[0].HTTP.Paths[0].Backend.Service.Port.Number = s.Service.Spec.Ports[0].Port
		}
		return
	}
	for i := range s.Ingress.Spec.Rules {
		s.Ingress.Spec.Rules[i].Host = domain
	}
	for i := range s.Ingress.Spec.TLS {
		s.Ingress.Spec.TLS[i].Hosts = []string{domain}
	}
}
