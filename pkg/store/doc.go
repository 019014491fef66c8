// Package store defines the draft record model and the Store interface the
// sync server persists through, along with an in-process implementation.
//
// The server core treats the store as an external collaborator: it calls
// Create, UpdateByID, and Query, and turns any returned error into a
// structured protocol response. A DynamoDB-backed implementation lives in the
// store/dynamo subpackage.
package store
