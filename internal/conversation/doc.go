// Package conversation holds the client-side state of multi-agent chats.
//
// # Overview
//
// Store owns every Conversation and its Messages behind one mutex. All
// mutation goes through a small set of operations:
//
//   - CreateConversation: new idle conversation
//   - AppendMessage: user/agent/system message; a user message returns the
//     conversation to idle
//   - ApplyMessageUpdate: merge a streamed chunk or completion into a
//     message, creating it when unknown
//   - SetTurnStatus: move along the turn graph
//   - CreateBranch: fork a message prefix into a new conversation
//
// Selectors (Get, List, Messages, Message, Status) return copies.
//
// # Turn Status
//
// Allowed transitions:
//
//	idle       -> generating | paused | stopped
//	generating -> idle | paused | stopped
//	paused     -> idle | stopped
//	stopped    (terminal)
//
// Anything else fails with ErrInvalidTransition.
//
// # Completion Detection
//
// An update whose metadata carries isGenerating is classified by that
// marker. Without it, the update completes the message when the previous
// content was the "..." placeholder or grew by more than the completion
// threshold (10 characters by default).
//
// # Changes
//
// Each mutation publishes a Change on the Broadcaster. Subscribe to a
// conversation id, or to AllConversations. When a Persister is configured
// each mutated conversation is written through as JSON under
// store.KindConversation, and Load restores them at startup.
package conversation
