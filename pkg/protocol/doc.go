// Package protocol defines the JSON message protocol spoken between the
// draftsync server and its clients.
//
// Inbound messages carry an action tag and an action-specific payload:
//
//	{"action": "save", "payload": {"data": "...", "userId": "u1", "storyblokId": "s1"}}
//
// ParseCommand decodes an inbound message into one of a closed set of typed
// commands (InitCommand, SaveCommand, UpdateCommand, GetCommand,
// UnknownCommand), so dispatching on a command is an exhaustive type switch
// rather than string comparison scattered through the server.
//
// Outbound messages share a single envelope with an action, a status of
// "success" or "error", an optional human-readable message, and an optional
// data element. The constructors in this package (InitResponse, SaveResponse,
// SaveNotification, ...) build every outbound shape the server produces.
package protocol
