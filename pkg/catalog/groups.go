package catalog

import (
	"context"
	"net/http"
	"net/url"

	"github.com/Sternrassler/rt-gateway/pkg/client"
)

type groupRequest struct {
	GroupID string `mapstructure:"group_id" catalog:"required"`
}

type createGroupRequest struct {
	Name        string `mapstructure:"name" catalog:"required"`
	Description string `mapstructure:"description"`
}

type updateGroupRequest struct {
	GroupID     string  `mapstructure:"group_id" catalog:"required"`
	Name        *string `mapstructure:"name"`
	Description *string `mapstructure:"description"`
	Token       string  `mapstructure:"token"`
}

type groupMemberRequest struct {
	GroupID string `mapstructure:"group_id" catalog:"required"`
	UserID  string `mapstructure:"user_id" catalog:"required"`
}

func groupRef(id string) client.Ref {
	return client.NewRef(client.TypeGroup, id)
}

func (r *Registry) registerGroups() {
	const res = "groups"

	register(r, op("list_groups", res, KindRead, PermBasic, "List RT Groups", "List all groups"),
		r.listDefaults(),
		func(ctx context.Context, req listRequest, _ *call) (any, error) {
			return r.list(ctx, client.TypeGroup, req)
		})

	register(r, op("get_group", res, KindRead, PermBasic, "Get RT Group", "Get group details by ID or name"),
		groupRequest{},
		func(ctx context.Context, req groupRequest, _ *call) (any, error) {
			return r.get(ctx, client.TypeGroup, req.GroupID)
		})

	register(r, op("create_group", res, KindWrite, PermAdmin, "Create RT Group", "Create a new group"),
		createGroupRequest{},
		func(ctx context.Context, req createGroupRequest, _ *call) (any, error) {
			fields := map[string]any{"Name": req.Name}
			setText(fields, "Description", req.Description)
			return r.create(ctx, client.TypeGroup, fields)
		})

	register(r, op("update_group", res, KindWrite, PermAdmin, "Update RT Group", "Update an existing group"),
		updateGroupRequest{},
		func(ctx context.Context, req updateGroupRequest, _ *call) (any, error) {
			fields := map[string]any{}
			set(fields, "Name", req.Name)
			set(fields, "Description", req.Description)
			return r.update(ctx, groupRef(req.GroupID), fields, req.Token)
		})

	register(r, destructive(op("delete_group", res, KindDelete, PermAdmin, "Delete RT Group", "Delete (disable) a group")),
		groupRequest{},
		func(ctx context.Context, req groupRequest, _ *call) (any, error) {
			return r.remove(ctx, client.TypeGroup, req.GroupID)
		})

	register(r, op("add_group_member", res, KindWrite, PermAdmin, "Add RT Group Member", "Add a user to a group"),
		groupMemberRequest{},
		func(ctx context.Context, req groupMemberRequest, _ *call) (any, error) {
			return r.gw.Act(ctx, groupRef(req.GroupID), "member", http.MethodPost, map[string]any{"UserId": numericOrText(req.UserID)})
		})

	register(r, op("remove_group_member", res, KindWrite, PermAdmin, "Remove RT Group Member", "Remove a user from a group"),
		groupMemberRequest{},
		func(ctx context.Context, req groupMemberRequest, _ *call) (any, error) {
			return r.gw.Act(ctx, groupRef(req.GroupID), "member/"+url.PathEscape(req.UserID), http.MethodDelete, nil)
		})

	register(r, op("search_groups", res, KindSearch, PermBasic, "Search RT Groups", "Search groups with RT query syntax"),
		r.searchDefaults(),
		func(ctx context.Context, req searchRequest, _ *call) (any, error) {
			return r.search(ctx, client.TypeGroup, req)
		})
}
