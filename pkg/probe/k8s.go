package probe

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// NewKubernetesClientset builds a typed client-go clientset. When
// kubeconfigPath is empty it uses in-cluster config (the control plane
// runs as a pod against the cluster it manages); otherwise it loads the
// given kubeconfig file, which is how operators run it against a remote
// cluster during development.
func NewKubernetesClientset(kubeconfigPath string) (*kubernetes.Clientset, error) {
	cfg, err := loadKubeConfig(kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading kubernetes config: %w", err)
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building kubernetes clientset: %w", err)
	}
	return cs, nil
}

func loadKubeConfig(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath == "" {
		return rest.InClusterConfig()
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfigPath)
}
