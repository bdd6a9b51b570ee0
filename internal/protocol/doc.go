// Package protocol defines the tagged envelope exchanged with the orchestration backend.
//
// # Wire Format
//
// Every frame is a JSON object with a string type tag and a payload:
//
//	{"type": "multi_agent_next_turn", "data": {"conversation_id": "c1"}}
//
// The backend is not fully consistent: message_chunk and message_complete carry
// their fields at the top level instead of under data. Decode accepts both
// shapes; when data is absent or not an object the whole frame is the payload.
//
// # Inbound Types
//
//   - message_chunk, message_complete: streamed generation output
//   - error: backend or generation failure, details may be an object or a string
//   - multi_agent_started, multi_agent_next_turn, multi_agent_no_next_speaker,
//     multi_agent_persona_not_found: turn lifecycle
//   - persona_registered, model_registered: registration acks
//   - generation_started, generation_stopped, pong: informational
//
// # Outbound Types
//
//   - multi_agent_start, multi_agent_branch, multi_agent_next_turn
//   - register_persona, register_model
//   - generate_message, stop_generation, ping
//
// Use Encode to build outbound frames and Payload to unmarshal inbound ones.
package protocol
