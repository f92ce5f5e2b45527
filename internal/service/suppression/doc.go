// Package suppression implements the account-wide suppression list: the set
// of recipient addresses that must never be sent to again. Entries are keyed
// by normalized address and written with upsert semantics, so concurrent
// domain cycles can record the same address without coordination.
package suppression
