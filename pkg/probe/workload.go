package probe

import (
	"context"

	autoscalingv1 "k8s.io/api/autoscaling/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// Workload is a single Deployment or StatefulSet's scale state, as
// returned by ListDeployments/ListStatefulSets.
type Workload struct {
	Name     string
	Replicas int32
}

// WorkloadProber lists and scales Deployments and StatefulSets in a
// namespace. Replicas set via Scale* are a target; the calls return
// without waiting for pods to converge.
type WorkloadProber interface {
	ListDeployments(ctx context.Context, namespace string) ([]Workload, error)
	ListStatefulSets(ctx context.Context, namespace string) ([]Workload, error)
	ScaleDeployment(ctx context.Context, namespace, name string, replicas int32) error
	ScaleStatefulSet(ctx context.Context, namespace, name string, replicas int32) error
}

// K8sWorkloadProber implements WorkloadProber against a live cluster via
// client-go's typed clientset.
type K8sWorkloadProber struct {
	clientset kubernetes.Interface
}

// NewK8sWorkloadProber wraps an existing clientset.
func NewK8sWorkloadProber(clientset kubernetes.Interface) *K8sWorkloadProber {
	return &K8sWorkloadProber{clientset: clientset}
}

// ListDeployments returns every Deployment in namespace with its current
// replica count.
func (p *K8sWorkloadProber) ListDeployments(ctx context.Context, namespace string) ([]Workload, error) {
	list, err := p.clientset.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, NewError(classifyK8sError(err), "apps/v1.Deployments.List", err)
	}
	out := make([]Workload, 0, len(list.Items))
	for _, d := range list.Items {
		replicas := int32(1)
		if d.Spec.Replicas != nil {
			replicas = *d.Spec.Replicas
		}
		out = append(out, Workload{Name: d.Name, Replicas: replicas})
	}
	return out, nil
}

// ListStatefulSets returns every StatefulSet in namespace with its current
// replica count.
func (p *K8sWorkloadProber) ListStatefulSets(ctx context.Context, namespace string) ([]Workload, error) {
	list, err := p.clientset.AppsV1().StatefulSets(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, NewError(classifyK8sError(err), "apps/v1.StatefulSets.List", err)
	}
	out := make([]Workload, 0, len(list.Items))
	for _, ss := range list.Items {
		replicas := int32(1)
		if ss.Spec.Replicas != nil {
			replicas = *ss.Spec.Replicas
		}
		out = append(out, Workload{Name: ss.Name, Replicas: replicas})
	}
	return out, nil
}

// ScaleDeployment sets a Deployment's replica count via the scale
// subresource, avoiding a read-modify-write of the full Deployment spec.
func (p *K8sWorkloadProber) ScaleDeployment(ctx context.Context, namespace, name string, replicas int32) error {
	scale := &autoscalingv1.Scale{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec:       autoscalingv1.ScaleSpec{Replicas: replicas},
	}
	_, err := p.clientset.AppsV1().Deployments(namespace).UpdateScale(ctx, name, scale, metav1.UpdateOptions{})
	return NewError(classifyK8sError(err), "apps/v1.Deployments.UpdateScale", err)
}

// ScaleStatefulSet sets a StatefulSet's replica count via the scale
// subresource.
func (p *K8sWorkloadProber) ScaleStatefulSet(ctx context.Context, namespace, name string, replicas int32) error {
	scale := &autoscalingv1.Scale{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec:       autoscalingv1.ScaleSpec{Replicas: replicas},
	}
	_, err := p.clientset.AppsV1().StatefulSets(namespace).UpdateScale(ctx, name, scale, metav1.UpdateOptions{})
	return NewError(classifyK8sError(err), "apps/v1.StatefulSets.UpdateScale", err)
}

// classifyK8sError maps a client-go/apimachinery error into a probe Kind.
func classifyK8sError(err error) Kind {
	if err == nil {
		return ""
	}
	switch {
	case apierrors.IsNotFound(err):
		return KindNotFound
	case apierrors.IsForbidden(err), apierrors.IsUnauthorized(err):
		return KindPermissionDenied
	case apierrors.IsTimeout(err), apierrors.IsServerTimeout(err):
		return KindTimeout
	case apierrors.IsTooManyRequests(err), apierrors.IsServiceUnavailable(err):
		return KindTransient
	default:
		return KindFatal
	}
}
