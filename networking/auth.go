package networking

// NonceLength returns the number of random bytes seeding a nonce for h
func NonceLength(h Hasher) int {
	return h.Size() / 4
}

// HexLength returns the length of every hex field exchanged during authentication with h
func HexLength(h Hasher) int {
	return h.Size() * 2
}

// HexDigest returns hex(h(parts...)) leaving the result in h
func HexDigest(h Hasher, parts ...[]byte) string {
	h.Init()
	for _, p := range parts {
		h.Add(p)
	}
	h.Calculate()
	return h.Hex()
}

// ChallengeResponse computes the response a client sends for the server nonce and its own cnonce
func ChallengeResponse(h Hasher, password string, nonce, cnonce []byte) string {
	return HexDigest(h, []byte(password), nonce, cnonce)
}
