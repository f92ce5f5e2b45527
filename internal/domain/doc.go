// Package domain contains the core types shared across the deliverability
// guard: mailbox credentials, bounce records, suppression entries, reputation
// snapshots, and per-domain training state. Types here carry no behavior
// beyond small derivations; persistence and business logic live in the
// service and repository packages.
package domain
