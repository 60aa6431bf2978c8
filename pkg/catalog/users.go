package catalog

import (
	"context"

	"github.com/Sternrassler/rt-gateway/pkg/client"
)

type userRequest struct {
	UserID string `mapstructure:"user_id" catalog:"required"`
}

type createUserRequest struct {
	Name         string `mapstructure:"name" catalog:"required"`
	EmailAddress string `mapstructure:"email_address" catalog:"required"`
	RealName     string `mapstructure:"real_name"`
	Password     string `mapstructure:"password"`
	Privileged   bool   `mapstructure:"privileged"`
	Disabled     bool   `mapstructure:"disabled"`
}

type updateUserRequest struct {
	UserID       string  `mapstructure:"user_id" catalog:"required"`
	EmailAddress *string `mapstructure:"email_address"`
	RealName     *string `mapstructure:"real_name"`
	Password     *string `mapstructure:"password"`
	Privileged   *bool   `mapstructure:"privileged"`
	Disabled     *bool   `mapstructure:"disabled"`
	Token        string  `mapstructure:"token"`
}

type noParams struct{}

func userRef(id string) client.Ref {
	return client.NewRef(client.TypeUser, id)
}

func (r *Registry) registerUsers() {
	const res = "users"

	register(r, op("list_users", res, KindRead, PermBasic, "List RT Users", "List all users"),
		r.listDefaults(),
		func(ctx context.Context, req listRequest, _ *call) (any, error) {
			return r.list(ctx, client.TypeUser, req)
		})

	register(r, op("get_user", res, KindRead, PermBasic, "Get RT User", "Get user details by ID or name"),
		userRequest{},
		func(ctx context.Context, req userRequest, _ *call) (any, error) {
			return r.get(ctx, client.TypeUser, req.UserID)
		})

	register(r, op("get_current_user", res, KindRead, PermBasic, "Get Current RT User", "Get the authenticated user"),
		noParams{},
		func(ctx context.Context, _ noParams, _ *call) (any, error) {
			return r.get(ctx, client.TypeUser, "current")
		})

	register(r, op("create_user", res, KindWrite, PermAdmin, "Create RT User", "Create a new user"),
		createUserRequest{},
		func(ctx context.Context, req createUserRequest, _ *call) (any, error) {
			fields := map[string]any{
				"Name":         req.Name,
				"EmailAddress": req.EmailAddress,
				"Privileged":   flag(req.Privileged),
				"Disabled":     flag(req.Disabled),
			}
			setText(fields, "RealName", req.RealName)
			setText(fields, "Password", req.Password)
			return r.create(ctx, client.TypeUser, fields)
		})

	register(r, op("update_user", res, KindWrite, PermAdmin, "Update RT User", "Update an existing user"),
		updateUserRequest{},
		func(ctx context.Context, req updateUserRequest, _ *call) (any, error) {
			fields := map[string]any{}
			set(fields, "EmailAddress", req.EmailAddress)
			set(fields, "RealName", req.RealName)
			set(fields, "Password", req.Password)
			setFlag(fields, "Privileged", req.Privileged)
			setFlag(fields, "Disabled", req.Disabled)
			return r.update(ctx, userRef(req.UserID), fields, req.Token)
		})

	register(r, op("search_users", res, KindSearch, PermBasic, "Search RT Users", "Search users with RT query syntax"),
		r.searchDefaults(),
		func(ctx context.Context, req searchRequest, _ *call) (any, error) {
			return r.search(ctx, client.TypeUser, req)
		})

	for _, toggle := range []struct {
		name, title, description, field string
		value                           int
		destructive                     bool
	}{
		{"disable_user", "Disable RT User", "Disable a user account", "Disabled", 1, true},
		{"enable_user", "Enable RT User", "Re-enable a disabled user account", "Disabled", 0, false},
		{"grant_privilege", "Grant RT Privileges", "Make a user privileged (staff)", "Privileged", 1, false},
		{"revoke_privilege", "Revoke RT Privileges", "Make a user unprivileged", "Privileged", 0, false},
	} {
		d := op(toggle.name, res, KindWrite, PermAdmin, toggle.title, toggle.description)
		if toggle.destructive {
			d = destructive(d)
		}
		register(r, d, userRequest{},
			func(ctx context.Context, req userRequest, _ *call) (any, error) {
				return r.update(ctx, userRef(req.UserID), map[string]any{toggle.field: toggle.value}, "")
			})
	}
}
