package catalog

import (
	"context"

	"github.com/Sternrassler/rt-gateway/pkg/client"
)

type catalogRequest struct {
	CatalogID string `mapstructure:"catalog_id" catalog:"required"`
}

type createCatalogRequest struct {
	Name        string `mapstructure:"name" catalog:"required"`
	Description string `mapstructure:"description"`
	Disabled    bool   `mapstructure:"disabled"`
}

type updateCatalogRequest struct {
	CatalogID   string  `mapstructure:"catalog_id" catalog:"required"`
	Name        *string `mapstructure:"name"`
	Description *string `mapstructure:"description"`
	Disabled    *bool   `mapstructure:"disabled"`
	Token       string  `mapstructure:"token"`
}

func (r *Registry) registerCatalogs() {
	const res = "catalogs"

	register(r, op("list_catalogs", res, KindRead, PermBasic, "List RT Catalogs", "List all asset catalogs"),
		r.listDefaults(),
		func(ctx context.Context, req listRequest, _ *call) (any, error) {
			return r.list(ctx, client.TypeCatalog, req)
		})

	register(r, op("get_catalog", res, KindRead, PermBasic, "Get RT Catalog", "Get catalog details by ID or name"),
		catalogRequest{},
		func(ctx context.Context, req catalogRequest, _ *call) (any, error) {
			return r.get(ctx, client.TypeCatalog, req.CatalogID)
		})

	register(r, op("create_catalog", res, KindWrite, PermAdmin, "Create RT Catalog", "Create a new asset catalog"),
		createCatalogRequest{},
		func(ctx context.Context, req createCatalogRequest, _ *call) (any, error) {
			fields := map[string]any{"Name": req.Name, "Disabled": flag(req.Disabled)}
			setText(fields, "Description", req.Description)
			return r.create(ctx, client.TypeCatalog, fields)
		})

	register(r, op("update_catalog", res, KindWrite, PermAdmin, "Update RT Catalog", "Update an existing catalog"),
		updateCatalogRequest{},
		func(ctx context.Context, req updateCatalogRequest, _ *call) (any, error) {
			fields := map[string]any{}
			set(fields, "Name", req.Name)
			set(fields, "Description", req.Description)
			setFlag(fields, "Disabled", req.Disabled)
			return r.update(ctx, client.NewRef(client.TypeCatalog, req.CatalogID), fields, req.Token)
		})

	register(r, destructive(op("delete_catalog", res, KindDelete, PermAdmin, "Delete RT Catalog", "Delete (disable) a catalog")),
		catalogRequest{},
		func(ctx context.Context, req catalogRequest, _ *call) (any, error) {
			return r.remove(ctx, client.TypeCatalog, req.CatalogID)
		})

	register(r, op("search_catalogs", res, KindSearch, PermBasic, "Search RT Catalogs", "Search catalogs with RT query syntax"),
		r.searchDefaults(),
		func(ctx context.Context, req searchRequest, _ *call) (any, error) {
			return r.search(ctx, client.TypeCatalog, req)
		})
}
