// Package media turns task attachments into a typed send plan and brings
// oversized local images under the platform photo limit.
package media

import (
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"

	"taskrelay/pkg/task"
)

// MaxPhotoBytes is the size under which a remote image may be sent as a photo.
const MaxPhotoBytes = 10 << 20

// Kind is the send shape of a normalized attachment.
type Kind int

const (
	KindImage     Kind = iota // sent as a photo
	KindDocument              // unsupported image or any other file; sent as a generic document
	KindVideoLink             // link to a video host; sent as a text message
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindDocument:
		return "document"
	case KindVideoLink:
		return "video_link"
	}
	return "unknown"
}

// Attachment is one logical item of a media plan.
type Attachment struct {
	Kind      Kind
	URL       string
	Caption   string // photo caption, document caption or video title
	MimeType  string
	Name      string
	Size      int64
	LocalPath string // set when the URL is served from the local upload dir
}

// SameContent reports whether b would render identically to a.
func (a Attachment) SameContent(b Attachment) bool {
	return a.Kind == b.Kind && a.URL == b.URL && a.Caption == b.Caption
}

// Plan is the deterministic media layout for one task state.
type Plan struct {
	Preview           *Attachment  // first registered image, or nil; the card photo when it is local
	Extras            []Attachment // everything not sent as part of the preview
	CollageCandidates []Attachment // locally hosted images, in registration order
}

// Items returns every planned attachment: collage candidates first, then
// extras, each group in registration order.
func (p Plan) Items() []Attachment {
	out := make([]Attachment, 0, len(p.CollageCandidates)+len(p.Extras))
	out = append(out, p.CollageCandidates...)
	return append(out, p.Extras...)
}

var imageMimes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

var videoURL = regexp.MustCompile(`(?i)^https?://(www\.|m\.)?(youtube\.com/(watch|shorts|live)|youtu\.be/|vimeo\.com/\d|rutube\.ru/video/|dailymotion\.com/video/|loom\.com/share/|vk\.com/video)`)

// IsVideoURL reports whether u points at a known video host.
func IsVideoURL(u string) bool {
	return videoURL.MatchString(u)
}

// Resolver maps a public URL to a local file when the file is hosted here.
type Resolver interface {
	Local(rawURL string) (string, bool)
}

// PathResolver resolves URLs under PublicBaseURL to files under UploadDir.
type PathResolver struct {
	FS            afero.Fs
	PublicBaseURL string
	UploadDir     string
}

func (r PathResolver) Local(rawURL string) (string, bool) {
	base := strings.TrimRight(r.PublicBaseURL, "/")
	if base == "" || r.UploadDir == "" || !strings.HasPrefix(rawURL, base+"/") {
		return "", false
	}
	rel := strings.TrimPrefix(rawURL, base+"/")
	if i := strings.IndexAny(rel, "?#"); i >= 0 {
		rel = rel[:i]
	}
	rel, err := url.PathUnescape(rel)
	if err != nil {
		return "", false
	}
	rel = path.Clean("/" + rel)[1:]
	if rel == "" {
		return "", false
	}
	p := filepath.Join(r.UploadDir, filepath.FromSlash(rel))
	if r.FS != nil {
		if fi, err := r.FS.Stat(p); err != nil || fi.IsDir() {
			return "", false
		}
	}
	return p, true
}

// Normalize builds the media plan for t. Inline images are registered ahead
// of declared attachments. res may be nil, in which case nothing is local.
func Normalize(t *task.Task, inlineImages []string, res Resolver) Plan {
	var items []Attachment
	seen := map[string]bool{}
	add := func(a Attachment) {
		key := a.Kind.String() + "|" + a.URL
		if a.URL == "" || seen[key] {
			return
		}
		seen[key] = true
		items = append(items, a)
	}
	local := func(u string) string {
		if res == nil {
			return ""
		}
		p, _ := res.Local(u)
		return p
	}

	for _, u := range inlineImages {
		if IsVideoURL(u) {
			add(Attachment{Kind: KindVideoLink, URL: u})
			continue
		}
		mt := mimeFromURL(u)
		if mt != "" && !imageMimes[mt] {
			add(Attachment{Kind: KindDocument, URL: u, MimeType: mt, LocalPath: local(u)})
			continue
		}
		add(Attachment{Kind: KindImage, URL: u, MimeType: mt, LocalPath: local(u)})
	}

	for _, a := range t.Attachments {
		if IsVideoURL(a.URL) {
			add(Attachment{Kind: KindVideoLink, URL: a.URL, Caption: a.Name, Name: a.Name})
			continue
		}
		mt := strings.ToLower(strings.TrimSpace(a.MimeType))
		if i := strings.IndexByte(mt, ';'); i >= 0 {
			mt = strings.TrimSpace(mt[:i])
		}
		lp := local(a.URL)
		kind := KindDocument
		if imageMimes[mt] && (a.Size < MaxPhotoBytes || lp != "") {
			kind = KindImage
		}
		add(Attachment{
			Kind:      kind,
			URL:       a.URL,
			Caption:   a.Name,
			MimeType:  mt,
			Name:      a.Name,
			Size:      a.Size,
			LocalPath: lp,
		})
	}

	var plan Plan
	for i := range items {
		a := items[i]
		if a.Kind == KindImage && plan.Preview == nil {
			p := a
			plan.Preview = &p
		}
		if a.Kind == KindImage && a.LocalPath != "" {
			plan.CollageCandidates = append(plan.CollageCandidates, a)
			continue
		}
		plan.Extras = append(plan.Extras, a)
	}
	return plan
}

func mimeFromURL(u string) string {
	p := u
	if parsed, err := url.Parse(u); err == nil {
		p = parsed.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return ""
	}
	if ext == ".jpg" {
		return "image/jpeg"
	}
	mt := mime.TypeByExtension(ext)
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return mt
}
