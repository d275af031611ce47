// Package docfs projects one SOPS-encrypted document as a writable virtual
// filesystem. Every leaf of the decrypted structure is a file, every object
// or array is a directory, and a synthetic raw-data entry at the root
// exposes the whole decrypted byte stream. Writes go back through the sops
// executable, so plaintext never reaches stable storage.
//
// The tool only knows how to decrypt a whole document and set one value at
// one path. Deletion is simulated by writing a unique marker value at the
// target, decrypting, stripping the marker's entry from the plaintext with a
// format-aware textual pass, and re-encrypting the result. Every mutation is
// staged against a private temporary copy and committed to the stable
// document atomically only once all tool invocations succeeded.
//
// Mutations from two goroutines against the same document are not
// serialized: both may observe the same snapshot and the second commit wins.
package docfs
