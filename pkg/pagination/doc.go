// Package pagination walks RT search results one page at a time.
//
// RT REST2 searches return numbered pages of at most 100 items. A Cursor
// requests page N+1 only after the caller has consumed page N, so abandoning
// a cursor early never costs more than one page.
//
// Example usage:
//
//	cur := pagination.New(gateway, client.Filter{
//		Type:     client.TypeTicket,
//		Query:    "Status = 'open'",
//		PageSize: 100,
//	}, pagination.Config{MaxItems: 1000})
//
//	for ticket, err := range cur.All(ctx) {
//		if err != nil {
//			return err
//		}
//		// ...
//	}
//
// The cursor stops when:
//   - RT reports no further page (pages, or next_page when totals are hidden)
//   - MaxItems items have been yielded
//   - a page comes back empty
//   - a page fetch fails (the failure is returned from every later call)
package pagination
