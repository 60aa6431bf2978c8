package catalog

import (
	"context"

	"github.com/Sternrassler/rt-gateway/pkg/client"
)

type assetRequest struct {
	AssetID string `mapstructure:"asset_id" catalog:"required"`
}

type createAssetRequest struct {
	Name        string `mapstructure:"name" catalog:"required"`
	Catalog     string `mapstructure:"catalog" catalog:"required"`
	Description string `mapstructure:"description"`
	Status      string `mapstructure:"status"`
}

type updateAssetRequest struct {
	AssetID     string  `mapstructure:"asset_id" catalog:"required"`
	Name        *string `mapstructure:"name"`
	Description *string `mapstructure:"description"`
	Status      *string `mapstructure:"status"`
	Catalog     *string `mapstructure:"catalog"`
	Token       string  `mapstructure:"token"`
}

func (r *Registry) registerAssets() {
	const res = "assets"

	register(r, op("list_assets", res, KindRead, PermBasic, "List RT Assets", "List all assets"),
		r.listDefaults(),
		func(ctx context.Context, req listRequest, _ *call) (any, error) {
			return r.list(ctx, client.TypeAsset, req)
		})

	register(r, op("get_asset", res, KindRead, PermBasic, "Get RT Asset", "Get asset details by ID"),
		assetRequest{},
		func(ctx context.Context, req assetRequest, _ *call) (any, error) {
			return r.get(ctx, client.TypeAsset, req.AssetID)
		})

	register(r, op("create_asset", res, KindWrite, PermBasic, "Create RT Asset", "Create a new asset in a catalog"),
		createAssetRequest{Status: "allocated"},
		func(ctx context.Context, req createAssetRequest, _ *call) (any, error) {
			fields := map[string]any{
				"Name":    req.Name,
				"Catalog": req.Catalog,
				"Status":  req.Status,
			}
			setText(fields, "Description", req.Description)
			return r.create(ctx, client.TypeAsset, fields)
		})

	register(r, op("update_asset", res, KindWrite, PermBasic, "Update RT Asset", "Update an existing asset"),
		updateAssetRequest{},
		func(ctx context.Context, req updateAssetRequest, _ *call) (any, error) {
			fields := map[string]any{}
			set(fields, "Name", req.Name)
			set(fields, "Description", req.Description)
			set(fields, "Status", req.Status)
			set(fields, "Catalog", req.Catalog)
			return r.update(ctx, client.NewRef(client.TypeAsset, req.AssetID), fields, req.Token)
		})

	register(r, destructive(op("delete_asset", res, KindDelete, PermAdmin, "Delete RT Asset", "Delete (disable) an asset")),
		assetRequest{},
		func(ctx context.Context, req assetRequest, _ *call) (any, error) {
			return r.remove(ctx, client.TypeAsset, req.AssetID)
		})

	register(r, op("search_assets", res, KindSearch, PermBasic, "Search RT Assets", "Search assets with RT query syntax"),
		r.searchDefaults(),
		func(ctx context.Context, req searchRequest, _ *call) (any, error) {
			return r.search(ctx, client.TypeAsset, req)
		})
}
