package cluster

import (
	"slices"

	corev1 "k8s.io/api/core/v1"
)

func podRank(p *corev1.Pod) int {
	switch p.Status.Phase {
	case corev1.PodRunning:
		return 2
	case corev1.PodPending:
		return 1
	default:
		return 0
	}
}

// SelectPod picks the pod most likely to reflect the deployed version:
// Running before Pending before anything else, newest creation time first.
func SelectPod(pods []corev1.Pod) (*corev1.Pod, bool) {
	if len(pods) == 0 {
		return nil, false
	}

	ranked := make([]*corev1.Pod, 0, len(pods))
	for i := range pods {
		ranked = append(ranked, &pods[i])
	}
	slices.SortStableFunc(ranked, func(a, b *corev1.Pod) int {
		if d := podRank(b) - podRank(a); d != 0 {
			return d
		}
		return b.CreationTimestamp.Time.Compare(a.CreationTimestamp.Time)
	})
	return ranked[0], true
}

// PrimaryImage returns the image of the pod's first container, or "" when there is none.
func PrimaryImage(p *corev1.Pod) string {
	if p == nil || len(p.Spec.Containers) == 0 {
		return ""
	}
	return p.Spec.Containers[0].Image
}
