package media

import (
	"path/filepath"
	"strings"
)

const (
	ContentTypeGLTF   = "model/gltf+json"
	ContentTypeGLB    = "model/gltf-binary"
	ContentTypeBinary = "application/octet-stream"
)

// ContentTypeFor maps a file name to the content type served for it. Only
// the extension is consulted, compared case-insensitively.
func ContentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".gltf":
		return ContentTypeGLTF
	case ".glb":
		return ContentTypeGLB
	default:
		return ContentTypeBinary
	}
}
