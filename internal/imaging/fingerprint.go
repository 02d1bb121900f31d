package imaging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Fingerprint returns a hex SHA-256 over the image size and its NRGBA pixels.
// Images with equal pixels hash equally regardless of their in-memory format.
func Fingerprint(img image.Image) string {
	n := imaging.Clone(img)
	h := sha256.New()
	fmt.Fprintf(h, "%dx%d:", n.Rect.Dx(), n.Rect.Dy())
	h.Write(n.Pix)
	return hex.EncodeToString(h.Sum(nil))
}
