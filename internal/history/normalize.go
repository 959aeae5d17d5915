package history

import (
	"strings"

	"whatspro/internal/store"
)

// vendorTypes maps the open-ended protocol taxonomy onto the closed
// canonical set. Anything unmapped is treated as text so downstream code
// never sees a type outside the canonical five.
var vendorTypes = map[string]string{
	"text":         store.TypeText,
	"chat":         store.TypeText,
	"conversation": store.TypeText,
	"image":        store.TypeImage,
	"sticker":      store.TypeImage,
	"video":        store.TypeVideo,
	"gif":          store.TypeVideo,
	"audio":        store.TypeAudio,
	"voice":        store.TypeAudio,
	"ptt":          store.TypeAudio,
	"document":     store.TypeDocument,
	"file":         store.TypeDocument,
}

// NormalizeType converts a raw vendor message type into one of the
// canonical types. The raw string must not propagate past this package.
func NormalizeType(vendor string) string {
	if t, ok := vendorTypes[strings.ToLower(strings.TrimSpace(vendor))]; ok {
		return t
	}
	return store.TypeText
}
