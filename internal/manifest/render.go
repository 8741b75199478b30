package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/goccy/go-yaml"
	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// Marshal renders obj as YAML. Server-populated fields and empty objects are
// dropped so the output reads like a hand-written manifest.
func Marshal(obj runtime.Object) ([]byte, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", obj, err)
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("decode %T: %w", obj, err)
	}
	delete(tree, "status")
	prune(tree)
	raw, err = json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", obj, err)
	}
	out, err := yaml.JSONToYAML(raw)
	if err != nil {
		return nil, fmt.Errorf("convert %T to yaml: %w", obj, err)
	}
	return out, nil
}

// prune removes null values and empty maps, reporting whether m ended up empty.
func prune(m map[string]any) bool {
	for k, v := range m {
		switch val := v.(type) {
		case nil:
			delete(m, k)
		case map[string]any:
			if prune(val) {
				delete(m, k)
			}
		case []any:
			for _, item := range val {
				if child, ok := item.(map[string]any); ok {
					prune(child)
				}
			}
		}
	}
	return len(m) == 0
}

// Render returns filename to YAML text for every present document.
func (s Set) Render() (map[string]string, error) {
	out := make(map[string]string, 5)
	for _, doc := range s.Documents() {
		data, err := Marshal(doc.Object)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", doc.Name, err)
		}
		out[doc.Filename] = string(data)
	}
	return out, nil
}

type typeHeader struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
}

// Unmarshal decodes one YAML document into its typed object.
func Unmarshal(data []byte) (runtime.Object, error) {
	raw, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("convert yaml to json: %w", err)
	}
	var header typeHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("decode type header: %w", err)
	}
	var obj runtime.Object
	switch header.Kind {
	case "Deployment":
		obj = &appsv1.Deployment{}
	case "Service":
		obj = &corev1.Service{}
	case "ConfigMap":
		obj = &corev1.ConfigMap{}
	case "HorizontalPodAutoscaler":
		obj = &autoscalingv2.HorizontalPodAutoscaler{}
	case "Ingress":
		obj = &networkingv1.Ingress{}
	default:
		return nil, fmt.Errorf("unsupported kind %q", header.Kind)
	}
	if err := json.Unmarshal(raw, obj); err != nil {
		return nil, fmt.Errorf("decode %s: %w", header.Kind, err)
	}
	return obj, nil
}

// Parse rebuilds a Set from rendered documents keyed by filename. Filenames
// are ignored; each document is placed by its kind.
func Parse(files map[string]string) (Set, error) {
	var set Set
	for name, text := range files {
		obj, err := Unmarshal([]byte(text))
		if err != nil {
			return Set{}, fmt.Errorf("parse %s: %w", name, err)
		}
		switch o := obj.(type) {
		case *appsv1.Deployment:
			set.Deployment = o
		case *corev1.Service:
			set.Service = o
		case *corev1.ConfigMap:
			set.ConfigMap = o
		case *autoscalingv2.HorizontalPodAutoscaler:
			set.HPA = o
		case *networkingv1.Ingress:
			set.Ingress = o
		}
	}
	if err := set.Validate(); err != nil {
		return Set{}, err
	}
	return set, nil
}
