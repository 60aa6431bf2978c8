package catalog

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Sternrassler/rt-gateway/pkg/client"
)

type ticketRequest struct {
	TicketID string `mapstructure:"ticket_id" catalog:"required"`
}

type createTicketRequest struct {
	Queue     string `mapstructure:"queue" catalog:"required"`
	Subject   string `mapstructure:"subject" catalog:"required"`
	Requestor string `mapstructure:"requestor"`
	Content   string `mapstructure:"content"`
	Priority  int    `mapstructure:"priority"`
	Status    string `mapstructure:"status"`
}

type updateTicketRequest struct {
	TicketID string  `mapstructure:"ticket_id" catalog:"required"`
	Subject  *string `mapstructure:"subject"`
	Status   *string `mapstructure:"status"`
	Priority *int    `mapstructure:"priority"`
	Owner    *string `mapstructure:"owner"`
	Token    string  `mapstructure:"token"`
}

type correspondRequest struct {
	TicketID string   `mapstructure:"ticket_id" catalog:"required"`
	Content  string   `mapstructure:"content" catalog:"required"`
	Cc       []string `mapstructure:"cc"`
	Bcc      []string `mapstructure:"bcc"`
}

type commentRequest struct {
	TicketID string `mapstructure:"ticket_id" catalog:"required"`
	Content  string `mapstructure:"content" catalog:"required"`
}

type mergeRequest struct {
	TicketID     string `mapstructure:"ticket_id" catalog:"required"`
	IntoTicketID string `mapstructure:"into_ticket_id" catalog:"required"`
}

type linkRequest struct {
	TicketID       string `mapstructure:"ticket_id" catalog:"required"`
	LinkType       string `mapstructure:"link_type" catalog:"required"`
	TargetTicketID string `mapstructure:"target_ticket_id" catalog:"required"`
}

type ticketPageRequest struct {
	TicketID string `mapstructure:"ticket_id" catalog:"required"`
	Page     int    `mapstructure:"page"`
	PerPage  int    `mapstructure:"per_page"`
}

// LinkTypes are the link kinds RT accepts on a ticket.
var LinkTypes = []string{"DependsOn", "DependedOnBy", "RefersTo", "ReferredToBy", "MemberOf", "Members", "Parent", "Child"}

func ticketRef(id string) client.Ref {
	return client.NewRef(client.TypeTicket, id)
}

func (r *Registry) registerTickets() {
	const res = "tickets"

	register(r, op("create_ticket", res, KindWrite, PermBasic, "Create RT Ticket", "Create a new ticket in Request Tracker"),
		createTicketRequest{Status: "new"},
		func(ctx context.Context, req createTicketRequest, _ *call) (any, error) {
			if req.Priority < 0 || req.Priority > 99 {
				return nil, invalid("priority must be between 0 and 99, got %d", req.Priority)
			}
			fields := map[string]any{
				"Queue":    req.Queue,
				"Subject":  req.Subject,
				"Priority": req.Priority,
				"Status":   req.Status,
			}
			setText(fields, "Requestor", req.Requestor)
			setText(fields, "Content", req.Content)
			return r.create(ctx, client.TypeTicket, fields)
		})

	register(r, op("get_ticket", res, KindRead, PermBasic, "Get RT Ticket", "Get ticket details by ID"),
		ticketRequest{},
		func(ctx context.Context, req ticketRequest, _ *call) (any, error) {
			return r.get(ctx, client.TypeTicket, req.TicketID)
		})

	register(r, op("update_ticket", res, KindWrite, PermBasic, "Update RT Ticket", "Update an existing ticket"),
		updateTicketRequest{},
		func(ctx context.Context, req updateTicketRequest, _ *call) (any, error) {
			fields := map[string]any{}
			set(fields, "Subject", req.Subject)
			set(fields, "Status", req.Status)
			set(fields, "Priority", req.Priority)
			set(fields, "Owner", req.Owner)
			return r.update(ctx, ticketRef(req.TicketID), fields, req.Token)
		})

	register(r, destructive(op("delete_ticket", res, KindDelete, PermAdmin, "Delete RT Ticket", "Delete (disable) a ticket")),
		ticketRequest{},
		func(ctx context.Context, req ticketRequest, _ *call) (any, error) {
			return r.remove(ctx, client.TypeTicket, req.TicketID)
		})

	register(r, op("search_tickets", res, KindSearch, PermBasic, "Search RT Tickets", "Search tickets with RT query syntax"),
		r.searchDefaults(),
		func(ctx context.Context, req searchRequest, _ *call) (any, error) {
			return r.search(ctx, client.TypeTicket, req)
		})

	register(r, op("correspond_ticket", res, KindWrite, PermBasic, "Correspond on RT Ticket", "Add correspondence (customer-visible reply) to a ticket"),
		correspondRequest{},
		func(ctx context.Context, req correspondRequest, _ *call) (any, error) {
			body := map[string]any{"Content": req.Content}
			if len(req.Cc) > 0 {
				body["Cc"] = req.Cc
			}
			if len(req.Bcc) > 0 {
				body["Bcc"] = req.Bcc
			}
			return r.gw.Act(ctx, ticketRef(req.TicketID), "correspond", http.MethodPost, body)
		})

	register(r, op("comment_ticket", res, KindWrite, PermBasic, "Comment on RT Ticket", "Add internal comment (not visible to customer) to a ticket"),
		commentRequest{},
		func(ctx context.Context, req commentRequest, _ *call) (any, error) {
			return r.gw.Act(ctx, ticketRef(req.TicketID), "comment", http.MethodPost, map[string]any{"Content": req.Content})
		})

	for _, action := range []struct {
		name, verb, title, description string
		perm                           Permission
	}{
		{"take_ticket", "take", "Take Ownership of RT Ticket", "Take ownership of a ticket", PermBasic},
		{"steal_ticket", "steal", "Steal RT Ticket Ownership", "Steal ownership of a ticket from another user", PermPowerUser},
		{"untake_ticket", "untake", "Release RT Ticket Ownership", "Release ownership of a ticket (set owner to Nobody)", PermBasic},
	} {
		register(r, op(action.name, res, KindWrite, action.perm, action.title, action.description),
			ticketRequest{},
			func(ctx context.Context, req ticketRequest, _ *call) (any, error) {
				return r.gw.Act(ctx, ticketRef(req.TicketID), action.verb, http.MethodPut, nil)
			})
	}

	register(r, destructive(op("merge_tickets", res, KindWrite, PermPowerUser, "Merge RT Tickets", "Merge one ticket into another")),
		mergeRequest{},
		func(ctx context.Context, req mergeRequest, _ *call) (any, error) {
			if req.TicketID == req.IntoTicketID {
				return nil, invalid("cannot merge ticket %s into itself", req.TicketID)
			}
			return r.gw.Act(ctx, ticketRef(req.TicketID), "merge", http.MethodPost, map[string]any{"Into": numericOrText(req.IntoTicketID)})
		})

	register(r, op("get_ticket_history", res, KindRead, PermBasic, "Get RT Ticket History", "Get transaction history for a ticket"),
		ticketPageRequest{Page: 1, PerPage: r.pageSize},
		func(ctx context.Context, req ticketPageRequest, _ *call) (any, error) {
			return r.subCollection(ctx, req, "history")
		})

	register(r, op("get_ticket_attachments", res, KindRead, PermBasic, "Get RT Ticket Attachments", "Get attachments for a ticket"),
		ticketPageRequest{Page: 1, PerPage: r.pageSize},
		func(ctx context.Context, req ticketPageRequest, _ *call) (any, error) {
			return r.subCollection(ctx, req, "attachments")
		})

	register(r, op("link_tickets", res, KindWrite, PermPowerUser, "Link RT Tickets", "Create links between tickets"),
		linkRequest{},
		func(ctx context.Context, req linkRequest, _ *call) (any, error) {
			if !validLinkType(req.LinkType) {
				return nil, invalid("unknown link type %q", req.LinkType)
			}
			return r.gw.Act(ctx, ticketRef(req.TicketID), "links", http.MethodPost, map[string]any{req.LinkType: numericOrText(req.TargetTicketID)})
		})
}

func (r *Registry) subCollection(ctx context.Context, req ticketPageRequest, sub string) (any, error) {
	ref := ticketRef(req.TicketID)
	filter := client.Filter{
		Type:       client.TypeTransaction,
		Collection: ref.Path() + "/" + sub,
		PageSize:   req.PerPage,
	}
	if sub == "attachments" {
		filter.Type = client.TypeAttachment
	}
	return r.gw.SearchPage(ctx, filter, req.Page)
}

func validLinkType(t string) bool {
	for _, lt := range LinkTypes {
		if lt == t {
			return true
		}
	}
	return false
}

// numericOrText sends numeric ids as JSON numbers, the way RT expects them.
func numericOrText(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}
