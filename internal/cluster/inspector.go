package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
)

// DefaultTimeout bounds each Kubernetes API call.
const DefaultTimeout = 6 * time.Second

// Inspector reads Service and Pod objects needed to find a deployed image.
type Inspector struct {
	client  kubernetes.Interface
	timeout time.Duration
}

// NewInspector wraps a clientset. A non-positive timeout uses DefaultTimeout.
func NewInspector(client kubernetes.Interface, timeout time.Duration) *Inspector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Inspector{client: client, timeout: timeout}
}

// Service fetches the Service object for t. A missing Service returns (nil, nil).
func (i *Inspector) Service(ctx context.Context, t Target) (*corev1.Service, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	svc, err := i.client.CoreV1().Services(t.Namespace).Get(ctx, t.Service, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get service %s: %w", t, err)
	}
	return svc, nil
}

// Pods lists the pods of namespace matching selector.
func (i *Inspector) Pods(ctx context.Context, namespace string, selector labels.Selector) ([]corev1.Pod, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	list, err := i.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("list pods in %s (%s): %w", namespace, selector, err)
	}
	return list.Items, nil
}

// Selector derives the pod label selector of a Service.
// ok is false when the Service selects nothing.
func Selector(svc *corev1.Service) (labels.Selector, bool) {
	if svc == nil || len(svc.Spec.Selector) == 0 {
		return nil, false
	}
	return labels.SelectorFromSet(labels.Set(svc.Spec.Selector)), true
}

// NewLookup returns a cache scoped to one snapshot refresh.
func (i *Inspector) NewLookup() *Lookup {
	return &Lookup{
		inspector: i,
		services:  make(map[string]*corev1.Service),
		pods:      make(map[string][]corev1.Pod),
	}
}

// Lookup memoizes Service and Pod queries so services sharing a backend
// cost one API round trip. Errors are not cached.
type Lookup struct {
	inspector *Inspector
	group     singleflight.Group

	mu       sync.Mutex
	services map[string]*corev1.Service // nil value = not found
	pods     map[string][]corev1.Pod
}

// Service is Inspector.Service with memoization.
func (l *Lookup) Service(ctx context.Context, t Target) (*corev1.Service, error) {
	key := "svc|" + t.String()

	l.mu.Lock()
	svc, ok := l.services[key]
	l.mu.Unlock()
	if ok {
		return svc, nil
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		svc, err := l.inspector.Service(ctx, t)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.services[key] = svc
		l.mu.Unlock()
		return svc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*corev1.Service), nil
}

// Pods is Inspector.Pods with memoization.
func (l *Lookup) Pods(ctx context.Context, namespace string, selector labels.Selector) ([]corev1.Pod, error) {
	key := "pods|" + namespace + "|" + selector.String()

	l.mu.Lock()
	pods, ok := l.pods[key]
	l.mu.Unlock()
	if ok {
		return pods, nil
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		pods, err := l.inspector.Pods(ctx, namespace, selector)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.pods[key] = pods
		l.mu.Unlock()
		return pods, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]corev1.Pod), nil
}
