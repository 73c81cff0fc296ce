// Package economy executes gift sends, diamond purchases and withdrawal
// requests against the balance store and ledger, and announces committed
// gifts to the stream's room.
//
// Every operation runs under a bounded execution budget. Balance changes and
// their ledger entries are committed as one unit by the storage layer; the
// room event for a gift is published only after that commit, while holding
// the room's lock so viewers see gifts in commit order.
package economy
