// Package poker provides the client-side model of a planning poker session.
//
// The poker package implements:
//   - The merged session state pushed by the server
//   - Per-user records (player/spectator, vote, admin)
//   - Key-wise last-write-wins merging of partial snapshots
//   - Parsing of the valid vote options advertised by the server
//
// Core Types:
//
// State holds the authoritative client-side view of a session. It is created
// once per session and only ever merged into, never replaced, so anything
// holding a *State always reads the latest values. User is the decoded record
// for one participant.
//
// Merging:
//
// Incoming snapshots are merged at the top level only. Every key present in the
// snapshot overwrites the stored value for that key; keys absent from the
// snapshot are left untouched. The server may therefore send incremental diffs
// or full snapshots interchangeably.
//
// Usage:
//
//	state := poker.NewState()
//	if err := state.MergeJSON(payload); err != nil {
//		return err
//	}
//
//	for _, u := range state.Players() {
//		fmt.Println(u.Name, u.HasVoted)
//	}
//
// Concurrency:
//
// State is safe for concurrent use. Reads decode from the stored raw values
// under a read lock, so a reader never observes a half-applied merge.
package poker
