// Package protocol defines the messages exchanged between the session
// authority and its clients, and their newline-delimited JSON encoding.
//
// Every frame is one JSON object followed by '\n'. Every object carries
// "type" and "user_id".
//
// Client -> Server
//
//	join:               icon
//	start_game_request: (host only)
//	claim_request:      lock_id
//	break_request:      lock_id, user_string, user_wpm
//	unclaim_request:    lock_id
//
// Server -> Client
//
//	join_ack:       user_id is the accepted identity
//	lobby_update:   players, host_id, game_started, phase
//	start_game:     countdown_seconds, game_time
//	claim_result:   success, lock
//	break_result:   success, points, lock
//	unclaim_result: success, lock
//	grid_update:    grid, players
//	error:          error, lock_id
package protocol
