package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/signalbeam/signalbeam/internal/store"
)

// QuotaGate answers "can this tenant register another device?". It must
// be idempotent and side-effect-free; the redeem flow calls it before
// consuming the registration token.
type QuotaGate interface {
	CheckDeviceQuota(ctx context.Context, tenantID uuid.UUID) error
}

// storeQuotaGate counts devices against the local tenant mirror.
type storeQuotaGate struct {
	store store.Store
}

func NewStoreQuotaGate(st store.Store) QuotaGate {
	return &storeQuotaGate{store: st}
}

func (g *storeQuotaGate) CheckDeviceQuota(ctx context.Context, tenantID uuid.UUID) error {
	tenant, err := g.store.Tenant().Get(ctx, tenantID)
	if err != nil {
		return err
	}
	count, err := g.store.Device().CountByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if tenant.MaxDevices > 0 && count >= int64(tenant.MaxDevices) {
		return fmt.Errorf("%w: tenant %s has %d of %d devices",
			sberrors.ErrDeviceQuotaExceeded, tenantID, count, tenant.MaxDevices)
	}
	return nil
}

// httpQuotaGate asks the identity service.
type httpQuotaGate struct {
	baseURL string
	client  *http.Client
}

func NewHTTPQuotaGate(baseURL string) QuotaGate {
	return &httpQuotaGate{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *httpQuotaGate) CheckDeviceQuota(ctx context.Context, tenantID uuid.UUID) error {
	url := fmt.Sprintf("%s/internal/tenants/%s/device-quota", g.baseURL, tenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return sberrors.ErrDownstreamTimeout
		}
		return fmt.Errorf("%w: %v", sberrors.ErrDownstreamTimeout, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body struct {
			Allowed bool `json:"allowed"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("decoding quota response: %w", err)
		}
		if !body.Allowed {
			return sberrors.ErrDeviceQuotaExceeded
		}
		return nil
	case http.StatusPaymentRequired, http.StatusForbidden:
		return sberrors.ErrDeviceQuotaExceeded
	default:
		return fmt.Errorf("%w: identity service replied %d", sberrors.ErrDownstreamTimeout, resp.StatusCode)
	}
}
