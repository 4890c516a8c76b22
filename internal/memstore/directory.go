package memstore

import (
	"context"

	"lv-tradecore/internal/apperr"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/types"
)

// Directory answers tier and asset lookups from the registered data.
type Directory struct {
	db *DB
}

func (db *DB) Directory() *Directory {
	return &Directory{db: db}
}

// ResolveTier returns free for users without a subscription.
func (d *Directory) ResolveTier(ctx context.Context, userID string) (types.Tier, error) {
	d.db.dirMu.RLock()
	defer d.db.dirMu.RUnlock()
	if t, ok := d.db.tiers[userID]; ok {
		return t, nil
	}
	return types.TierFree, nil
}

func (d *Directory) GetAsset(ctx context.Context, assetID string) (model.Asset, error) {
	a, ok := d.db.asset(assetID)
	if !ok {
		return model.Asset{}, apperr.NotFound("asset not found").WithDetail("asset_id", assetID)
	}
	return a, nil
}
