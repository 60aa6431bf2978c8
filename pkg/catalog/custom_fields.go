package catalog

import (
	"context"

	"github.com/Sternrassler/rt-gateway/pkg/client"
)

type customFieldRequest struct {
	FieldID string `mapstructure:"field_id" catalog:"required"`
}

type createCustomFieldRequest struct {
	Name        string `mapstructure:"name" catalog:"required"`
	Type        string `mapstructure:"type" catalog:"required"`
	Description string `mapstructure:"description"`
	LookupType  string `mapstructure:"lookup_type"`
}

type updateCustomFieldRequest struct {
	FieldID     string  `mapstructure:"field_id" catalog:"required"`
	Name        *string `mapstructure:"name"`
	Description *string `mapstructure:"description"`
	Disabled    *bool   `mapstructure:"disabled"`
	Token       string  `mapstructure:"token"`
}

type customRoleRequest struct {
	RoleID string `mapstructure:"role_id" catalog:"required"`
}

type createCustomRoleRequest struct {
	Name        string `mapstructure:"name" catalog:"required"`
	Description string `mapstructure:"description"`
	MaxValues   int    `mapstructure:"max_values"`
}

type updateCustomRoleRequest struct {
	RoleID      string  `mapstructure:"role_id" catalog:"required"`
	Name        *string `mapstructure:"name"`
	Description *string `mapstructure:"description"`
	MaxValues   *int    `mapstructure:"max_values"`
	Token       string  `mapstructure:"token"`
}

func (r *Registry) registerCustomFields() {
	const res = "custom-fields"

	register(r, op("list_custom_fields", res, KindRead, PermBasic, "List RT Custom Fields", "List all custom fields"),
		r.listDefaults(),
		func(ctx context.Context, req listRequest, _ *call) (any, error) {
			return r.list(ctx, client.TypeCustomField, req)
		})

	register(r, op("get_custom_field", res, KindRead, PermBasic, "Get RT Custom Field", "Get custom field details by ID or name"),
		customFieldRequest{},
		func(ctx context.Context, req customFieldRequest, _ *call) (any, error) {
			return r.get(ctx, client.TypeCustomField, req.FieldID)
		})

	register(r, op("create_custom_field", res, KindWrite, PermAdmin, "Create RT Custom Field", "Create a new custom field"),
		createCustomFieldRequest{},
		func(ctx context.Context, req createCustomFieldRequest, _ *call) (any, error) {
			fields := map[string]any{"Name": req.Name, "Type": req.Type}
			setText(fields, "Description", req.Description)
			setText(fields, "LookupType", req.LookupType)
			return r.create(ctx, client.TypeCustomField, fields)
		})

	register(r, op("update_custom_field", res, KindWrite, PermAdmin, "Update RT Custom Field", "Update an existing custom field"),
		updateCustomFieldRequest{},
		func(ctx context.Context, req updateCustomFieldRequest, _ *call) (any, error) {
			fields := map[string]any{}
			set(fields, "Name", req.Name)
			set(fields, "Description", req.Description)
			setFlag(fields, "Disabled", req.Disabled)
			return r.update(ctx, client.NewRef(client.TypeCustomField, req.FieldID), fields, req.Token)
		})

	register(r, destructive(op("delete_custom_field", res, KindDelete, PermAdmin, "Delete RT Custom Field", "Delete (disable) a custom field")),
		customFieldRequest{},
		func(ctx context.Context, req customFieldRequest, _ *call) (any, error) {
			return r.remove(ctx, client.TypeCustomField, req.FieldID)
		})

	register(r, op("search_custom_fields", res, KindSearch, PermBasic, "Search RT Custom Fields", "Search custom fields with RT query syntax"),
		r.searchDefaults(),
		func(ctx context.Context, req searchRequest, _ *call) (any, error) {
			return r.search(ctx, client.TypeCustomField, req)
		})
}

func (r *Registry) registerCustomRoles() {
	const res = "custom-roles"

	register(r, op("list_custom_roles", res, KindRead, PermAdmin, "List RT Custom Roles", "List all custom roles"),
		r.listDefaults(),
		func(ctx context.Context, req listRequest, _ *call) (any, error) {
			return r.list(ctx, client.TypeCustomRole, req)
		})

	register(r, op("get_custom_role", res, KindRead, PermAdmin, "Get RT Custom Role", "Get custom role details by ID or name"),
		customRoleRequest{},
		func(ctx context.Context, req customRoleRequest, _ *call) (any, error) {
			return r.get(ctx, client.TypeCustomRole, req.RoleID)
		})

	register(r, op("create_custom_role", res, KindWrite, PermAdmin, "Create RT Custom Role", "Create a new custom role"),
		createCustomRoleRequest{},
		func(ctx context.Context, req createCustomRoleRequest, _ *call) (any, error) {
			if req.MaxValues < 0 {
				return nil, invalid("max_values must not be negative, got %d", req.MaxValues)
			}
			fields := map[string]any{"Name": req.Name, "MaxValues": req.MaxValues}
			setText(fields, "Description", req.Description)
			return r.create(ctx, client.TypeCustomRole, fields)
		})

	register(r, op("update_custom_role", res, KindWrite, PermAdmin, "Update RT Custom Role", "Update an existing custom role"),
		updateCustomRoleRequest{},
		func(ctx context.Context, req updateCustomRoleRequest, _ *call) (any, error) {
			fields := map[string]any{}
			set(fields, "Name", req.Name)
			set(fields, "Description", req.Description)
			set(fields, "MaxValues", req.MaxValues)
			return r.update(ctx, client.NewRef(client.TypeCustomRole, req.RoleID), fields, req.Token)
		})

	register(r, destructive(op("delete_custom_role", res, KindDelete, PermAdmin, "Delete RT Custom Role", "Delete (disable) a custom role")),
		customRoleRequest{},
		func(ctx context.Context, req customRoleRequest, _ *call) (any, error) {
			return r.remove(ctx, client.TypeCustomRole, req.RoleID)
		})

	register(r, op("search_custom_roles", res, KindSearch, PermAdmin, "Search RT Custom Roles", "Search custom roles with RT query syntax"),
		r.searchDefaults(),
		func(ctx context.Context, req searchRequest, _ *call) (any, error) {
			return r.search(ctx, client.TypeCustomRole, req)
		})
}
