package catalog

import (
	"context"

	"github.com/Sternrassler/rt-gateway/pkg/client"
)

type queueRequest struct {
	QueueID string `mapstructure:"queue_id" catalog:"required"`
}

type createQueueRequest struct {
	Name              string `mapstructure:"name" catalog:"required"`
	Description       string `mapstructure:"description"`
	CorrespondAddress string `mapstructure:"correspond_address"`
	CommentAddress    string `mapstructure:"comment_address"`
}

type updateQueueRequest struct {
	QueueID           string  `mapstructure:"queue_id" catalog:"required"`
	Name              *string `mapstructure:"name"`
	Description       *string `mapstructure:"description"`
	CorrespondAddress *string `mapstructure:"correspond_address"`
	CommentAddress    *string `mapstructure:"comment_address"`
	Token             string  `mapstructure:"token"`
}

func (r *Registry) registerQueues() {
	const res = "queues"

	register(r, op("list_queues", res, KindRead, PermBasic, "List RT Queues", "List all queues"),
		r.listDefaults(),
		func(ctx context.Context, req listRequest, _ *call) (any, error) {
			return r.list(ctx, client.TypeQueue, req)
		})

	register(r, op("get_queue", res, KindRead, PermBasic, "Get RT Queue", "Get queue details by ID or name"),
		queueRequest{},
		func(ctx context.Context, req queueRequest, _ *call) (any, error) {
			return r.get(ctx, client.TypeQueue, req.QueueID)
		})

	register(r, op("create_queue", res, KindWrite, PermAdmin, "Create RT Queue", "Create a new queue"),
		createQueueRequest{},
		func(ctx context.Context, req createQueueRequest, _ *call) (any, error) {
			fields := map[string]any{"Name": req.Name}
			setText(fields, "Description", req.Description)
			setText(fields, "CorrespondAddress", req.CorrespondAddress)
			setText(fields, "CommentAddress", req.CommentAddress)
			return r.create(ctx, client.TypeQueue, fields)
		})

	register(r, op("update_queue", res, KindWrite, PermAdmin, "Update RT Queue", "Update an existing queue"),
		updateQueueRequest{},
		func(ctx context.Context, req updateQueueRequest, _ *call) (any, error) {
			fields := map[string]any{}
			set(fields, "Name", req.Name)
			set(fields, "Description", req.Description)
			set(fields, "CorrespondAddress", req.CorrespondAddress)
			set(fields, "CommentAddress", req.CommentAddress)
			return r.update(ctx, client.NewRef(client.TypeQueue, req.QueueID), fields, req.Token)
		})

	register(r, op("search_queues", res, KindSearch, PermBasic, "Search RT Queues", "Search queues with RT query syntax"),
		r.searchDefaults(),
		func(ctx context.Context, req searchRequest, _ *call) (any, error) {
			return r.search(ctx, client.TypeQueue, req)
		})

	register(r, destructive(op("disable_queue", res, KindWrite, PermAdmin, "Disable RT Queue", "Disable a queue")),
		queueRequest{},
		func(ctx context.Context, req queueRequest, _ *call) (any, error) {
			return r.update(ctx, client.NewRef(client.TypeQueue, req.QueueID), map[string]any{"Disabled": 1}, "")
		})

	register(r, op("enable_queue", res, KindWrite, PermAdmin, "Enable RT Queue", "Re-enable a disabled queue"),
		queueRequest{},
		func(ctx context.Context, req queueRequest, _ *call) (any, error) {
			return r.update(ctx, client.NewRef(client.TypeQueue, req.QueueID), map[string]any{"Disabled": 0}, "")
		})
}
