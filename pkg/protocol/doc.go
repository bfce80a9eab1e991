// Package protocol implements the ZenTalk chat wire format.
//
// # Connection Overview
//
// Every connection runs through the same phases:
//   - Handshake: each side writes a 32-byte X25519 public key, then reads
//     the peer's. No framing, no type tag.
//   - Name: the relay writes UsernamePrompt in plaintext and the client
//     answers with a single newline-terminated line, also plaintext.
//   - Chat: all further traffic is framed and encrypted.
//
// # Frame Format
//
// A frame is a 4-byte big-endian length followed by that many payload bytes.
// Payloads are cipher blobs (16-byte IV || AES-256-CBC ciphertext), so a
// valid chat frame is always at least 32 bytes long. Lengths above the
// configured maximum (DefaultMaxFrameSize unless overridden) are rejected
// before any payload is read.
//
// # Message Text
//
// Decrypted payloads are UTF-8 text of the form
//
//	[HH:MM:SS] name: body
//
// An empty plaintext is the delivery acknowledgement the relay sends back
// to the author of each broadcast line.
//
// # Usage Example
//
//	blob, err := crypto.Encrypt(key[:], []byte(protocol.FormatChatLine(time.Now(), "alice", "hi")))
//	if err != nil {
//	    return err
//	}
//	if err := protocol.WriteFrame(conn, blob); err != nil {
//	    return err
//	}
//
//	payload, err := protocol.ReadFrame(conn)
//	if protocol.IsClosed(err) {
//	    // peer went away
//	}
package protocol
