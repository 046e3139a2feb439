package cryptoutils

// Zero overwrites b with zeros. Callers defer it on every buffer holding key
// material so secrets do not outlive the operation that needed them.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
