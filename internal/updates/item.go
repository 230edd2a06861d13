package updates

import (
	"context"
	"fmt"

	"github.com/MrSnakeDoc/exposure/internal/cluster"
	"github.com/MrSnakeDoc/exposure/internal/domain"
	"github.com/MrSnakeDoc/exposure/internal/imageref"
)

// inspect builds the item of one service. Every failure is folded into the
// item; nothing here aborts the snapshot.
func (b *Builder) inspect(ctx context.Context, lookup *cluster.Lookup, svc domain.Service) domain.ImageUpdateItem {
	item := domain.ImageUpdateItem{
		ID:         svc.ID,
		Name:       svc.Name,
		Status:     domain.ImageStatusUnknown,
		StatusText: "Unknown",
	}

	target, ok := cluster.ParseTarget(svc.Target)
	if !ok {
		return withStatus(item, domain.ImageStatusExternal, "External target", "Not a cluster service target.")
	}
	if lookup == nil {
		return withStatus(item, domain.ImageStatusUnknown, "Cluster error", cluster.ErrUnavailable.Error())
	}

	k8sSvc, err := lookup.Service(ctx, target)
	if err != nil {
		return withStatus(item, domain.ImageStatusUnknown, "Cluster error", err.Error())
	}
	if k8sSvc == nil {
		return withStatus(item, domain.ImageStatusNotInstalled, "Not installed", "Service object not found.")
	}

	selector, ok := cluster.Selector(k8sSvc)
	if !ok {
		return withStatus(item, domain.ImageStatusUnknown, "No selector", "Service does not define pod selector labels.")
	}

	pods, err := lookup.Pods(ctx, target.Namespace, selector)
	if err != nil {
		return withStatus(item, domain.ImageStatusUnknown, "Cluster error", err.Error())
	}
	pod, ok := cluster.SelectPod(pods)
	if !ok {
		return withStatus(item, domain.ImageStatusNotInstalled, "No pods", "No matching pods currently exist.")
	}

	image := cluster.PrimaryImage(pod)
	if image == "" {
		return withStatus(item, domain.ImageStatusUnknown, "No image", "Pod has no primary container image.")
	}
	item.Image = image

	ref, err := imageref.Parse(image)
	if err != nil {
		b.logger.Debugf("unparsable image %q for service %s: %v", image, svc.ID, err)
		return withStatus(item, domain.ImageStatusUnknown, "Invalid image", "Could not parse image reference.")
	}
	item.ImageRepo = ref.Repo()
	item.CurrentVersion = ref.Tag

	if v, ok := imageref.ParseVersion(ref.Tag); !ok || !v.Stable() {
		return withStatus(item, domain.ImageStatusUnknown, "Unknown", "Current tag is not stable semver.")
	}

	tags, err := b.registry.ListTags(ctx, ref)
	if err != nil {
		return withStatus(item, domain.ImageStatusUnknown, "Registry error", err.Error())
	}

	latest, ok := imageref.ResolveLatest(ref.Tag, tags)
	if !ok {
		return withStatus(item, domain.ImageStatusUnknown, "Unknown", "No stable semver tags found in registry.")
	}
	item.LatestVersion = latest.Tag
	item.UpdateAvailable = latest.UpdateAvailable
	if latest.UpdateAvailable {
		return withStatus(item, domain.ImageStatusUpdate, "Update available", fmt.Sprintf("New version %s available.", latest.Tag))
	}
	return withStatus(item, domain.ImageStatusCurrent, "Up to date", "Running latest known stable version.")
}

func withStatus(item domain.ImageUpdateItem, status domain.ImageStatus, text, detail string) domain.ImageUpdateItem {
	item.Status = status
	item.StatusText = text
	item.Detail = detail
	return item
}
