package external

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// K8sConfigMapStore is the production ConfigMapStore adapter, grounded on
// the teacher's internal/infrastructure/k8s client-go usage.
type K8sConfigMapStore struct {
	client           kubernetes.Interface
	defaultNamespace string
}

// NewK8sConfigMapStore builds a ConfigMapStore over an existing client-go
// clientset.
func NewK8sConfigMapStore(client kubernetes.Interface, defaultNamespace string) *K8sConfigMapStore {
	return &K8sConfigMapStore{client: client, defaultNamespace: defaultNamespace}
}

// GetConfigMap implements ConfigMapStore.
func (k *K8sConfigMapStore) GetConfigMap(ctx context.Context, name, namespace string) (ConfigMap, error) {
	if namespace == "" {
		namespace = k.defaultNamespace
	}
	cm, err := k.client.CoreV1().ConfigMaps(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return ConfigMap{}, fmt.Errorf("configmap %s/%s not found: %w", namespace, name, err)
		}
		return ConfigMap{}, err
	}
	return fromK8sConfigMap(cm), nil
}

func fromK8sConfigMap(cm *corev1.ConfigMap) ConfigMap {
	return ConfigMap{Data: cm.Data}
}
