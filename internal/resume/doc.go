// Package resume holds the session resume and event replay subsystem.
//
// It keeps a live game's players synchronized across disconnects, page
// reloads, and restarts of the connection layer by combining three pieces:
//   - token: signed, time-boxed resume credentials handed to clients.
//   - storage: durable session records and a per-game, gapless event log.
//   - registry: the orchestrator that issues sessions, validates
//     credentials, records and replays events, and trims the log once every
//     live session has acknowledged past a point.
//
// The sweeper subpackage evicts sessions past their liveness timeout, which
// can unblock log trimming a dead reader was holding back. The api/http
// subpackage exposes the registry to the connection gateway.
package resume
