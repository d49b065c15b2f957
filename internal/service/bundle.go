package service

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/samber/lo"
	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/signalbeam/signalbeam/internal/store/model"
)

func (h *ServiceHandler) CreateBundle(ctx context.Context, tenantID uuid.UUID, req api.CreateBundleRequest) (*api.BundleResponse, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", sberrors.ErrInvalidRequest)
	}
	now := h.clock.Now()
	bundle := model.Bundle{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      req.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.Bundle().Create(ctx, &bundle); err != nil {
		return nil, err
	}
	resp := bundle.ToApiResource()
	return &resp, nil
}

func (h *ServiceHandler) GetBundle(ctx context.Context, tenantID, bundleID uuid.UUID) (*api.BundleResponse, error) {
	bundle, err := h.store.Bundle().Get(ctx, tenantID, bundleID)
	if err != nil {
		return nil, err
	}
	resp := bundle.ToApiResource()
	return &resp, nil
}

func (h *ServiceHandler) ListBundles(ctx context.Context, tenantID uuid.UUID) ([]api.BundleResponse, error) {
	bundles, err := h.store.Bundle().List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return lo.Map(bundles, func(b model.Bundle, _ int) api.BundleResponse { return b.ToApiResource() }), nil
}

func (h *ServiceHandler) DeleteBundle(ctx context.Context, tenantID, bundleID uuid.UUID) error {
	active, err := h.store.Rollout().ExistsActiveForBundle(ctx, bundleID)
	if err != nil {
		return err
	}
	if active {
		return fmt.Errorf("%w: bundle %s has an active rollout", sberrors.ErrActiveRolloutExists, bundleID)
	}
	return h.store.Bundle().Delete(ctx, tenantID, bundleID)
}

// CreateBundleVersion registers an immutable version. Versions must be
// valid semver; latestVersion tracks the highest version by semver
// precedence, not insertion order.
func (h *ServiceHandler) CreateBundleVersion(ctx context.Context, tenantID, bundleID uuid.UUID, req api.CreateBundleVersionRequest) (*api.BundleVersionResponse, error) {
	parsed, err := semver.StrictNewVersion(req.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not valid semver", sberrors.ErrInvalidVersion, req.Version)
	}
	if len(req.Containers) == 0 {
		return nil, fmt.Errorf("%w: a version needs at least one container", sberrors.ErrInvalidRequest)
	}
	for _, c := range req.Containers {
		if c.Name == "" || c.Image == "" {
			return nil, fmt.Errorf("%w: container name and image are required", sberrors.ErrInvalidRequest)
		}
	}
	bundle, err := h.store.Bundle().Get(ctx, tenantID, bundleID)
	if err != nil {
		return nil, err
	}

	version := model.BundleVersion{
		ID:           uuid.New(),
		BundleID:     bundle.ID,
		Version:      parsed.String(),
		Containers:   req.Containers,
		CreatedAt:    h.clock.Now(),
		ReleaseNotes: req.ReleaseNotes,
		BlobURI:      req.BlobURI,
		Checksum:     req.Checksum,
		SizeBytes:    req.SizeBytes,
	}
	if err := h.store.Bundle().CreateVersion(ctx, &version); err != nil {
		return nil, err
	}

	if bundle.LatestVersion == nil || semverLess(*bundle.LatestVersion, version.Version) {
		if err := h.store.Bundle().UpdateLatestVersion(ctx, bundle.ID, version.Version); err != nil {
			return nil, err
		}
	}
	resp := version.ToApiResource()
	return &resp, nil
}

func (h *ServiceHandler) ListBundleVersions(ctx context.Context, tenantID, bundleID uuid.UUID) ([]api.BundleVersionResponse, error) {
	bundle, err := h.store.Bundle().Get(ctx, tenantID, bundleID)
	if err != nil {
		return nil, err
	}
	versions, err := h.store.Bundle().ListVersions(ctx, bundle.ID)
	if err != nil {
		return nil, err
	}
	return lo.Map(versions, func(v model.BundleVersion, _ int) api.BundleVersionResponse { return v.ToApiResource() }), nil
}

func (h *ServiceHandler) GetBundleVersion(ctx context.Context, tenantID, bundleID uuid.UUID, version string) (*api.BundleVersionResponse, error) {
	bundle, err := h.store.Bundle().Get(ctx, tenantID, bundleID)
	if err != nil {
		return nil, err
	}
	bv, err := h.store.Bundle().GetVersion(ctx, bundle.ID, version)
	if err != nil {
		return nil, err
	}
	resp := bv.ToApiResource()
	return &resp, nil
}

func semverLess(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return a < b
	}
	return va.LessThan(vb)
}
