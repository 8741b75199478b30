// Package kube applies generated manifest sets to a Kubernetes cluster.
package kube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/splax/manifestor/internal/manifest"
	"github.com/splax/manifestor/pkg/config"
)

// ErrNotReady is returned when a rollout does not become available in time.
var ErrNotReady = errors.New("kube: deployment not ready")

const pollInterval = 2 * time.Second

// Applier creates or updates manifest documents.
type Applier struct {
	client       kubernetes.Interface
	logger       *slog.Logger
	readyTimeout time.Duration
}

// Outcome records what happened to one document.
type Outcome struct {
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	Action string `json:"action"`
}

// Actions reported in Outcome.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionDeleted   = "deleted"
	ActionUnchanged = "unchanged"
)

// New builds an Applier. It prefers cfg.Kubeconfig, then in-cluster
// configuration.
func New(cfg config.KubernetesConfig, log *slog.Logger) (*Applier, error) {
	restCfg, err := restConfig(cfg.Kubeconfig)
	if err != nil {
		return nil, err
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	return NewForClient(clientset, cfg.ReadyTimeout, log), nil
}

// NewForClient wraps an existing clientset.
func NewForClient(client kubernetes.Interface, readyTimeout time.Duration, log *slog.Logger) *Applier {
	if readyTimeout <= 0 {
		readyTimeout = 2 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Applier{client: client, logger: log, readyTimeout: readyTimeout}
}

func restConfig(kubeconfig string) (*rest.Config, error) {
	kubeconfig = strings.TrimSpace(kubeconfig)
	if kubeconfig == "" {
		kubeconfig = strings.TrimSpace(os.Getenv("KUBECONFIG"))
	}
	if kubeconfig != "" {
		cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("create kubeconfig client: %w", err)
		}
		return cfg, nil
	}
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("create in-cluster config: %w", err)
	}
	return cfg, nil
}

// Apply creates or updates every document in set. Optional documents the set
// no longer carries are deleted when they exist and are managed by us.
func (a *Applier) Apply(ctx context.Context, set manifest.Set) ([]Outcome, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	ns := set.Deployment.Namespace
	if ns == "" {
		ns = manifest.DefaultNamespace
	}
	name := set.AppName()
	outcomes := make([]Outcome, 0, 5)
	record := func(kind, action string) {
		outcomes = append(outcomes, Outcome{Kind: kind, Name: name, Action: action})
		a.logger.Info("manifest applied", "kind", kind, "name", name, "namespace", ns, "action", action)
	}

	cm := set.ConfigMap.DeepCopy()
	action, err := apply[*corev1.ConfigMap](ctx, a.client.CoreV1().ConfigMaps(ns), cm, nil)
	if err != nil {
		return outcomes, fmt.Errorf("apply configmap: %w", err)
	}
	record("ConfigMap", action)

	dep := set.Deployment.DeepCopy()
	action, err = apply[*appsv1.Deployment](ctx, a.client.AppsV1().Deployments(ns), dep, nil)
	if err != nil {
		return outcomes, fmt.Errorf("apply deployment: %w", err)
	}
	record("Deployment", action)

	svc := set.Service.DeepCopy()
	action, err = apply[*corev1.Service](ctx, a.client.CoreV1().Services(ns), svc, func(existing *corev1.Service) {
		svc.Spec.ClusterIP = existing.Spec.ClusterIP
		svc.Spec.ClusterIPs = existing.Spec.ClusterIPs
	})
	if err != nil {
		return outcomes, fmt.Errorf("apply service: %w", err)
	}
	record("Service", action)

	hpas := a.client.AutoscalingV2().HorizontalPodAutoscalers(ns)
	if set.HPA != nil {
		action, err = apply[*autoscalingv2.HorizontalPodAutoscaler](ctx, hpas, set.HPA.DeepCopy(), nil)
	} else {
		action, err = prune[*autoscalingv2.HorizontalPodAutoscaler](ctx, hpas, name)
	}
	if err != nil {
		return outcomes, fmt.Errorf("apply hpa: %w", err)
	}
	if action != ActionUnchanged {
		record("HorizontalPodAutoscaler", action)
	}

	ingresses := a.client.NetworkingV1().Ingresses(ns)
	if set.Ingress != nil {
		action, err = apply[*networkingv1.Ingress](ctx, ingresses, set.Ingress.DeepCopy(), nil)
	} else {
		action, err = prune[*networkingv1.Ingress](ctx, ingresses, name)
	}
	if err != nil {
		return outcomes, fmt.Errorf("apply ingress: %w", err)
	}
	if action != ActionUnchanged {
		record("Ingress", action)
	}
	return outcomes, nil
}

type resourceClient[T metav1.Object] interface {
	Create(ctx context.Context, obj T, opts metav1.CreateOptions) (T, error)
	Get(ctx context.Context, name string, opts metav1.GetOptions) (T, error)
	Update(ctx context.Context, obj T, opts metav1.UpdateOptions) (T, error)
	Delete(ctx context.Context, name string, opts metav1.DeleteOptions) error
}

func apply[T metav1.Object](ctx context.Context, c resourceClient[T], desired T, carry func(existing T)) (string, error) {
	_, err := c.Create(ctx, desired, metav1.CreateOptions{})
	if err == nil {
		return ActionCreated, nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return "", fmt.Errorf("create: %w", err)
	}
	existing, err := c.Get(ctx, desired.GetName(), metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("get: %w", err)
	}
	desired.SetResourceVersion(existing.GetResourceVersion())
	if carry != nil {
		carry(existing)
	}
	if _, err := c.Update(ctx, desired, metav1.UpdateOptions{}); err != nil {
		return "", fmt.Errorf("update: %w", err)
	}
	return ActionUpdated, nil
}

func prune[T metav1.Object](ctx context.Context, c resourceClient[T], name string) (string, error) {
	existing, err := c.Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return ActionUnchanged, nil
	}
	if err != nil {
		return "", fmt.Errorf("get: %w", err)
	}
	if existing.GetLabels()[manifest.LabelManagedBy] != manifest.ManagedBy {
		return ActionUnchanged, nil
	}
	if err := c.Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return "", fmt.Errorf("delete: %w", err)
	}
	return ActionDeleted, nil
}

// WaitReady polls the deployment until every desired replica is updated and
// available.
func (a *Applier) WaitReady(ctx context.Context, namespace, name string) error {
	if namespace == "" {
		namespace = manifest.DefaultNamespace
	}
	deployments := a.client.AppsV1().Deployments(namespace)
	var last *appsv1.Deployment
	err := wait.PollUntilContextTimeout(ctx, pollInterval, a.readyTimeout, true, func(ctx context.Context) (bool, error) {
		dep, err := deployments.Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return false, err
		}
		last = dep
		return rolledOut(dep), nil
	})
	if err == nil {
		return nil
	}
	if last != nil && wait.Interrupted(err) {
		return fmt.Errorf("%w: %s has %d/%d available replicas", ErrNotReady, name, last.Status.AvailableReplicas, desiredReplicas(last))
	}
	return fmt.Errorf("wait for deployment %s: %w", name, err)
}

func rolledOut(dep *appsv1.Deployment) bool {
	if dep.Status.ObservedGeneration < dep.Generation {
		return false
	}
	want := desiredReplicas(dep)
	return dep.Status.UpdatedReplicas >= want && dep.Status.AvailableReplicas >= want
}

func desiredReplicas(dep *appsv1.Deployment) int32 {
	if dep.Spec.Replicas == nil {
		return 1
	}
	return *dep.Spec.Replicas
}
