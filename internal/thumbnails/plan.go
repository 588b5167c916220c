// Package thumbnails produces resized derivatives of user images and
// uploads them to the object store under deterministic keys.
package thumbnails

import (
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/5l1v3r1/tellecast-sub000/internal/models"
)

const (
	LargeWidth  = 1920
	SmallWidth  = 320
	MediumWidth = 685
)

// Derivative is one resized variant of a source image.
type Derivative struct {
	Name   string // large, small
	Width  int
	Source string // URL of the original
	MIME   string // declared MIME of the original, may be empty
}

// Key is the object-store key of d: <name>_<basename of source>.
func (d Derivative) Key() string {
	return d.Name + "_" + baseName(d.Source)
}

func pair(source, mimeType string, small int) []Derivative {
	return []Derivative{
		{Name: "large", Width: LargeWidth, Source: source, MIME: mimeType},
		{Name: "small", Width: small, Source: source, MIME: mimeType},
	}
}

// Plan enumerates the derivatives an object needs.
func Plan(src *models.MediaSource) []Derivative {
	switch src.Ref.Kind {
	case models.KindUser, models.KindUserPhoto:
		if src.Original == "" {
			return nil
		}
		return pair(src.Original, src.MIMEType, SmallWidth)

	case models.KindUserStatusAttachment:
		if src.Original == "" {
			return nil
		}
		return pair(src.Original, src.MIMEType, MediumWidth)

	case models.KindSlaveTell:
		var out []Derivative
		if src.Original != "" {
			out = append(out, pair(src.Original, "", SmallWidth)...)
		}
		if src.Contents != "" && isImage(src.Type, src.Contents) {
			out = append(out, pair(src.Contents, imageMIME(src.Type), MediumWidth)...)
		}
		return out

	case models.KindPostAttachment:
		if src.Original == "" || !isImage(src.MIMEType, src.Original) {
			return nil
		}
		return pair(src.Original, src.MIMEType, MediumWidth)
	}
	return nil
}

// isImage reports whether declared (a MIME type or a bare "image") or,
// failing that, the extension of rawURL names an image.
func isImage(declared, rawURL string) bool {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared == "image" || strings.HasPrefix(declared, "image/") {
		return true
	}
	if declared != "" && strings.Contains(declared, "/") {
		return false
	}
	return strings.HasPrefix(mimeFromURL(rawURL), "image/")
}

func imageMIME(declared string) string {
	if strings.Contains(declared, "/") {
		return declared
	}
	return ""
}

func mimeFromURL(rawURL string) string {
	return mime.TypeByExtension(strings.ToLower(path.Ext(baseName(rawURL))))
}

func baseName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(rawURL)
}

// FormatFor maps a MIME type to the encoder: jpg is normalised to jpeg and
// anything imaging cannot round-trip as-is falls back to png.
func FormatFor(mimeType string) (imaging.Format, string) {
	sub := strings.ToLower(mimeType)
	if i := strings.Index(sub, ";"); i != -1 {
		sub = sub[:i]
	}
	sub = strings.TrimSpace(strings.TrimPrefix(sub, "image/"))
	switch sub {
	case "jpeg", "jpg", "pjpeg":
		return imaging.JPEG, "image/jpeg"
	case "gif":
		return imaging.GIF, "image/gif"
	case "tiff":
		return imaging.TIFF, "image/tiff"
	}
	return imaging.PNG, "image/png"
}
