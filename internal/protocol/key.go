package protocol

// KeyMatches reports whether a received shared key matches the expected one.
// Exact case-sensitive equality: possession of the string is the entire
// security model. This is deliberately weaker than cryptographic
// authentication and must not be mistaken for it.
func KeyMatches(received, expected string) bool {
	return received == expected
}
