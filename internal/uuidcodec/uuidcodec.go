// Package uuidcodec converts between canonical 36-char UUID text and the
// 16-byte wire form used for the VFIO VF token, matching the original's
// parse_uuid/uuid_unparse contract on top of google/uuid.
package uuidcodec

import "github.com/google/uuid"

// Len is the size in bytes of the packed form.
const Len = 16

// Parse decodes a canonical 36-character UUID string into its packed form.
func Parse(s string) ([Len]byte, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return [Len]byte{}, err
	}
	return [Len]byte(u), nil
}

// Unparse renders the packed form as a canonical UUID string.
func Unparse(b [Len]byte) string {
	return uuid.UUID(b).String()
}

// IsNull reports whether every byte of the packed form is zero.
func IsNull(b [Len]byte) bool {
	return b == [Len]byte{}
}
