// Package router applies inbound backend envelopes to local state.
//
// Router implements transport.Dispatcher. Each recognized type has a
// handler that mutates the conversation store or hands the turn decision
// to the orchestrator; handlers never send to the backend themselves.
//
//	message_chunk                  append streamed text, in progress
//	message_complete               final content; creates unknown messages
//	generation_started             "..." placeholder from the current speaker
//	generation_stopped             mark the message finished
//	error                          attach to the message, end a running turn
//	multi_agent_next_turn          orchestrator sends generate_message
//	multi_agent_no_next_speaker    notify, end the turn
//	multi_agent_persona_not_found  notify, end the turn
//	multi_agent_started, persona_registered, model_registered, pong
//	                               logged
//
// Envelopes of any other type are published verbatim to transport
// subscribers of their type topic.
package router
