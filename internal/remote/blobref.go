package remote

import (
	"net/url"
	"path"
	"strings"

	"github.com/dmitrijs2005/meterkeeper/internal/common"
)

// BlobRef is a parsed blob reference of the form scheme://bucket/key.
type BlobRef struct {
	Scheme string
	Bucket string
	Key    string
}

func (r BlobRef) String() string {
	return r.Scheme + "://" + r.Bucket + "/" + r.Key
}

// BlobPath builds the namespaced blob path owner/meter/filename.
func BlobPath(ownerID, meterID, filename string) string {
	return path.Join(ownerID, meterID, path.Base(filename))
}

// ParseBlobRef derives a deletable blob path from a reference stored on a
// reading. References that do not carry a scheme, bucket and key are
// reported as common.ErrMalformed.
func ParseBlobRef(ref string) (BlobRef, error) {
	if strings.TrimSpace(ref) == "" {
		return BlobRef{}, common.Malformedf("empty blob reference")
	}

	u, err := url.Parse(ref)
	if err != nil {
		return BlobRef{}, common.Malformedf("blob reference %q: %v", ref, err)
	}

	key := strings.TrimPrefix(u.Path, "/")
	if u.Scheme == "" || u.Host == "" || key == "" || strings.HasSuffix(key, "/") {
		return BlobRef{}, common.Malformedf("blob reference %q has no deletable path", ref)
	}

	return BlobRef{Scheme: u.Scheme, Bucket: u.Host, Key: key}, nil
}
