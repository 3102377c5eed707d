package probe

import (
	"context"

	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// IngressSummary is the slice of an Ingress object discovery needs: its
// namespace and the hostnames its rules route.
type IngressSummary struct {
	Name       string
	Namespace  string
	Hosts      []string
	TLSSecrets []string
}

// IngressProber lists ingresses and reads configmaps, used only by
// discovery.
type IngressProber interface {
	ListIngresses(ctx context.Context) ([]IngressSummary, error)
	GetConfigMap(ctx context.Context, namespace, name string) (map[string]string, error)
}

// K8sIngressProber implements IngressProber against a live cluster,
// listing across all namespaces since discovery has no single namespace to
// scope to ahead of time.
type K8sIngressProber struct {
	clientset kubernetes.Interface
}

// NewK8sIngressProber wraps an existing clientset.
func NewK8sIngressProber(clientset kubernetes.Interface) *K8sIngressProber {
	return &K8sIngressProber{clientset: clientset}
}

// ListIngresses returns every Ingress across all namespaces with its rule
// hosts and referenced TLS secret names.
func (p *K8sIngressProber) ListIngresses(ctx context.Context) ([]IngressSummary, error) {
	list, err := p.clientset.NetworkingV1().Ingresses("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, NewError(classifyK8sError(err), "networking/v1.Ingresses.List", err)
	}

	out := make([]IngressSummary, 0, len(list.Items))
	for _, ing := range list.Items {
		out = append(out, IngressSummary{
			Name:       ing.Name,
			Namespace:  ing.Namespace,
			Hosts:      ingressHosts(ing),
			TLSSecrets: ingressTLSSecrets(ing),
		})
	}
	return out, nil
}

// GetConfigMap reads a namespaced configmap's data, used to read
// common-config for per-app database connection fields. A not-found
// configmap returns a classified NotFound error; discovery treats this as
// best-effort and continues.
func (p *K8sIngressProber) GetConfigMap(ctx context.Context, namespace, name string) (map[string]string, error) {
	cm, err := p.clientset.CoreV1().ConfigMaps(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, NewError(classifyK8sError(err), "core/v1.ConfigMaps.Get", err)
	}
	return cm.Data, nil
}

func ingressHosts(ing networkingv1.Ingress) []string {
	seen := map[string]bool{}
	var hosts []string
	for _, rule := range ing.Spec.Rules {
		if rule.Host == "" || seen[rule.Host] {
			continue
		}
		seen[rule.Host] = true
		hosts = append(hosts, rule.Host)
	}
	return hosts
}

func ingressTLSSecrets(ing networkingv1.Ingress) []string {
	var secrets []string
	for _, tls := range ing.Spec.TLS {
		if tls.SecretName != "" {
			secrets = append(secrets, tls.SecretName)
		}
	}
	return secrets
}
