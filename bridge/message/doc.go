// Package message defines the wire contract between the host and the
// embedded drawing runtime. Every crossing of the boundary is an Envelope
// {type, data} whose data is itself a serialized payload chosen by type.
//
// The package owns:
//   - the envelope codec (Encode/Decode) and the string-literal escaping used
//     when an envelope is pushed through the runtime's script evaluation
//     (Quote/Unquote);
//   - one struct per message type, grouped into the closed Outbound and
//     Inbound sets;
//   - the scene types (Scene, Element, BinaryFile, ExportConfig) that ride
//     inside payloads.
package message
