package huntmodule

import (
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/huntrelay/huntrelay/internal/domain"
)

// ETag returns a content hash of m's rendered spec, suitable for an
// HTTP ETag header so a console or browser client can cheaply tell
// whether a module it already has cached has changed.
func ETag(m domain.HuntModule) (string, error) {
	text, err := Render(m)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256([]byte(text))
	return hex.EncodeToString(sum[:]), nil
}
