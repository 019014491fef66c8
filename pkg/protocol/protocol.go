package protocol

import (
	"encoding/json"
	"fmt"
)

// Action identifies a message type, inbound or outbound.
type Action string

// Client command actions.
const (
	ActionInit   Action = "init"
	ActionSave   Action = "save"
	ActionUpdate Action = "update"
	ActionGet    Action = "get"
)

// Server response and notification actions.
const (
	ActionInitResponse       Action = "init_response"
	ActionSaveResponse       Action = "save_response"
	ActionSaveNotification   Action = "save_notification"
	ActionUpdateResponse     Action = "update_response"
	ActionUpdateNotification Action = "update_notification"
	ActionGetResponse        Action = "get_response"
	ActionError              Action = "error"
)

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Message is the outbound envelope for responses and notifications.
type Message struct {
	Action  Action `json:"action"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// envelope is the inbound wire shape before the payload is decoded.
type envelope struct {
	Action  Action          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// Command is one decoded inbound message. The set of implementations is
// closed: InitCommand, SaveCommand, UpdateCommand, GetCommand, and
// UnknownCommand for unrecognized action tags.
type Command interface {
	// CommandAction returns the action tag the command was decoded from.
	CommandAction() Action
}

// InitCommand binds the connection to an owner identity. Only valid as the
// first command on a connection.
type InitCommand struct {
	UserID string `json:"userId"`
}

// CommandAction implements Command.
func (InitCommand) CommandAction() Action { return ActionInit }

// SaveCommand creates a new draft.
type SaveCommand struct {
	Data        string `json:"data"`
	UserID      string `json:"userId"`
	StoryblokID string `json:"storyblokId"`
}

// CommandAction implements Command.
func (SaveCommand) CommandAction() Action { return ActionSave }

// UpdateCommand applies partial fields to an existing draft. Nil fields are
// left unchanged.
type UpdateCommand struct {
	ID          string  `json:"id"`
	Data        *string `json:"data"`
	StoryblokID *string `json:"storyblokId"`
}

// CommandAction implements Command.
func (UpdateCommand) CommandAction() Action { return ActionUpdate }

// GetCommand queries drafts by owner, optionally narrowed to one Storyblok
// story.
type GetCommand struct {
	UserID      string `json:"userId"`
	StoryblokID string `json:"storyblokId"`
}

// CommandAction implements Command.
func (GetCommand) CommandAction() Action { return ActionGet }

// UnknownCommand is produced for action tags outside the recognized set. The
// connection handling it responds with an error and stays open.
type UnknownCommand struct {
	Action Action
}

// CommandAction implements Command.
func (c UnknownCommand) CommandAction() Action { return c.Action }

// ParseCommand decodes a raw inbound message into a typed command. A
// malformed envelope or payload is an error; an unrecognized action tag is
// not, and yields an UnknownCommand so the caller can answer with a protocol
// error without dropping the connection.
func ParseCommand(data []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: invalid message: %w", err)
	}

	switch env.Action {
	case ActionInit:
		var cmd InitCommand
		if err := unmarshalPayload(env, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil

	case ActionSave:
		var cmd SaveCommand
		if err := unmarshalPayload(env, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil

	case ActionUpdate:
		var cmd UpdateCommand
		if err := unmarshalPayload(env, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil

	case ActionGet:
		var cmd GetCommand
		if err := unmarshalPayload(env, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil

	default:
		return UnknownCommand{Action: env.Action}, nil
	}
}

func unmarshalPayload(env envelope, v any) error {
	if len(env.Payload) == 0 {
		// A command with no payload decodes to its zero value; field-level
		// validation happens in the handler.
		return nil
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("protocol: invalid %v payload: %w", env.Action, err)
	}
	return nil
}

// InitResponse acknowledges a successful handshake.
func InitResponse() Message {
	return Message{
		Action:  ActionInitResponse,
		Status:  StatusSuccess,
		Message: "Connection initialized",
	}
}

// SaveResponse carries the created draft back to the requester.
func SaveResponse(draft any) Message {
	return Message{Action: ActionSaveResponse, Status: StatusSuccess, Data: draft}
}

// SaveNotification announces a created draft to the owner's other
// connections.
func SaveNotification(draft any) Message {
	return Message{Action: ActionSaveNotification, Status: StatusSuccess, Data: draft}
}

// UpdateResponse carries the updated draft back to the requester.
func UpdateResponse(draft any) Message {
	return Message{Action: ActionUpdateResponse, Status: StatusSuccess, Data: draft}
}

// UpdateNotification announces an updated draft to the owner's other
// connections.
func UpdateNotification(draft any) Message {
	return Message{Action: ActionUpdateNotification, Status: StatusSuccess, Data: draft}
}

// GetResponse carries a query result set.
func GetResponse(drafts any) Message {
	return Message{Action: ActionGetResponse, Status: StatusSuccess, Data: drafts}
}

// Error builds the structured error envelope sent for any failed command.
func Error(message string) Message {
	return Message{Action: ActionError, Status: StatusError, Message: message}
}
