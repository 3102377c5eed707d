package probe

import (
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// Pod is a single pod's status as reported to the status aggregator.
type Pod struct {
	Name         string
	Phase        string
	Reason       string
	Owner        string
	RestartCount int32
	CreatedAt    time.Time
	Ready        bool
}

// PodProber lists pods in a namespace.
type PodProber interface {
	ListPods(ctx context.Context, namespace string) ([]Pod, error)
}

// K8sPodProber implements PodProber against a live cluster.
type K8sPodProber struct {
	clientset kubernetes.Interface
}

// NewK8sPodProber wraps an existing clientset.
func NewK8sPodProber(clientset kubernetes.Interface) *K8sPodProber {
	return &K8sPodProber{clientset: clientset}
}

// ListPods returns every pod in namespace. A permission-denied error is
// returned as a classified probe.Error so callers (the aggregator) can
// degrade to zero counts plus a warning rather than failing the whole
// request.
func (p *K8sPodProber) ListPods(ctx context.Context, namespace string) ([]Pod, error) {
	list, err := p.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, NewError(classifyK8sError(err), "core/v1.Pods.List", err)
	}

	out := make([]Pod, 0, len(list.Items))
	for _, pod := range list.Items {
		out = append(out, Pod{
			Name:         pod.Name,
			Phase:        string(pod.Status.Phase),
			Reason:       podReason(pod),
			Owner:        podOwner(pod),
			RestartCount: podRestartCount(pod),
			CreatedAt:    pod.CreationTimestamp.Time,
			Ready:        podReady(pod),
		})
	}
	return out, nil
}

func podOwner(pod corev1.Pod) string {
	for _, ref := range pod.OwnerReferences {
		return ref.Kind + "/" + ref.Name
	}
	return ""
}

func podRestartCount(pod corev1.Pod) int32 {
	var total int32
	for _, cs := range pod.Status.ContainerStatuses {
		total += cs.RestartCount
	}
	return total
}

func podReady(pod corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// podReason surfaces the first container waiting or terminated reason of
// any kind, or the pod-level status reason otherwise. This is how
// CrashLoopBackOff gets bucketed by the aggregator's pod classifier.
func podReason(pod corev1.Pod) string {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" {
			return cs.State.Waiting.Reason
		}
		if cs.State.Terminated != nil && cs.State.Terminated.Reason != "" {
			return cs.State.Terminated.Reason
		}
	}
	return pod.Status.Reason
}
