// Package server implements the room-based chat relay for RoomChat.
//
// The implementation is organized into specialized files: the Hub keeps the
// room registry and fans broadcasts out to members, the session code drives
// each connection's handshake and receive loop, the Router dispatches frames
// after authentication, and the Dispatcher keeps blocking collaborator calls
// (token verification, persistence) off the delivery path.
package server
