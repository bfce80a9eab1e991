package protocol

// Protocol constants
const (
	// Length prefix preceding every frame payload (big-endian u32)
	LengthPrefixSize = 4

	// Default upper bound on a single frame payload
	DefaultMaxFrameSize = 4 << 20 // 4 MiB

	// Longest username line the relay will read, newline included
	MaxNameLength = 4096

	// Timestamp layout stamped on chat lines
	TimeFormat = "15:04:05"
)

// UsernamePrompt is sent in plaintext by the relay right after the handshake.
// It is the only unframed server output besides the handshake itself.
const UsernamePrompt = "Enter your username:\n"

// DeliveryAck is the plaintext of the delivery acknowledgement: an empty
// message, which still encrypts to one full padding block.
var DeliveryAck = []byte{}

// IsDeliveryAck reports whether a decrypted payload is an acknowledgement
func IsDeliveryAck(plaintext []byte) bool {
	return len(plaintext) == 0
}
