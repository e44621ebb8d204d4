package service

import (
	"crypto/rand"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"
)

// storageKey builds folder/yyyy/mm/<ulid>-<slug>.<ext>.
func storageKey(folder, name string, at time.Time) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	base := slug.Make(strings.TrimSuffix(name, path.Ext(name)))
	if base == "" {
		base = "file"
	}
	id := ulid.MustNew(ulid.Timestamp(at), rand.Reader)

	key := fmt.Sprintf("%s/%04d/%02d/%s-%s", slug.Make(folder), at.Year(), int(at.Month()), strings.ToLower(id.String()), base)
	if ext != "" {
		key += "." + ext
	}
	return key
}
