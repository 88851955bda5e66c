package analyzer

import (
	"path"
	"regexp"
	"strings"

	"github.com/opendharma/archive-migrate/internal/datastore"
	"github.com/opendharma/archive-migrate/internal/dedup"
)

// File categories produced by classification.
const (
	CategoryTrack       = "track"
	CategoryTranslation = "translation"
	CategoryLegacy      = "legacy"
	CategoryTranscript  = "transcript"
)

// extensionTypes maps lowercase file extensions to the coarse file type.
var extensionTypes = map[string]datastore.FileType{
	".mp3":  datastore.FileTypeAudio,
	".wav":  datastore.FileTypeAudio,
	".flac": datastore.FileTypeAudio,
	".m4a":  datastore.FileTypeAudio,
	".ogg":  datastore.FileTypeAudio,
	".wma":  datastore.FileTypeAudio,
	".aac":  datastore.FileTypeAudio,
	".mp4":  datastore.FileTypeVideo,
	".avi":  datastore.FileTypeVideo,
	".mov":  datastore.FileTypeVideo,
	".mkv":  datastore.FileTypeVideo,
	".pdf":  datastore.FileTypeDocument,
	".doc":  datastore.FileTypeDocument,
	".docx": datastore.FileTypeDocument,
	".txt":  datastore.FileTypeDocument,
	".rtf":  datastore.FileTypeDocument,
	".odt":  datastore.FileTypeDocument,
	".zip":  datastore.FileTypeArchive,
	".tar":  datastore.FileTypeArchive,
	".gz":   datastore.FileTypeArchive,
	".rar":  datastore.FileTypeArchive,
	".7z":   datastore.FileTypeArchive,
	".jpg":  datastore.FileTypeImage,
	".jpeg": datastore.FileTypeImage,
	".png":  datastore.FileTypeImage,
	".gif":  datastore.FileTypeImage,
	".tiff": datastore.FileTypeImage,
	".bmp":  datastore.FileTypeImage,
}

var mimeTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".aac":  "audio/aac",
	".mp4":  "video/mp4",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
	".zip":  "application/zip",
	".gz":   "application/gzip",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
}

var bracketTag = regexp.MustCompile(`\[([a-zA-Z-]{2,8})\]`)

// primaryLanguage is the language of untagged and [en]-tagged audio; tracks
// in any other language are treated as translations.
const primaryLanguage = "en"

// Classification is the pure outcome of classifying one object key. Running
// it twice on the same key yields identical results.
type Classification struct {
	Filename    string
	SourceDir   string
	Collection  string // first path segment under the event prefix, "" at top level
	Extension   string
	FileType    datastore.FileType
	Category    string
	MimeType    string
	Language    string
	TrackNumber int
	Title       string // normalized, via dedup.NormalizeTitle
}

// Classify derives everything knowable about an object from its key alone:
// extension and coarse type, the finer category from filename heuristics
// (bracketed language tags, folder markers, translation markers), and the
// parsed track number and normalized title.
func Classify(eventCode, objectKey string) Classification {
	c := Classification{
		Filename:  path.Base(objectKey),
		SourceDir: path.Dir(objectKey),
	}

	c.Extension = strings.ToLower(path.Ext(c.Filename))
	c.FileType = extensionTypes[c.Extension]
	if c.FileType == "" {
		c.FileType = datastore.FileTypeOther
	}
	c.MimeType = mimeTypes[c.Extension]
	if c.MimeType == "" {
		c.MimeType = "application/octet-stream"
	}

	c.Collection = collectionMarker(eventCode, objectKey)

	if m := bracketTag.FindStringSubmatch(c.Filename); m != nil {
		c.Language = strings.ToLower(m[1])
	}

	c.TrackNumber, c.Title = dedup.NormalizeTitle(c.Filename)
	c.Category = categorize(&c)
	return c
}

// collectionMarker returns the first directory segment under the event
// prefix, e.g. "E1/audio2/01 talk.mp3" yields "audio2".
func collectionMarker(eventCode, objectKey string) string {
	rel := strings.TrimPrefix(objectKey, eventCode)
	rel = strings.TrimPrefix(rel, "/")
	if idx := strings.IndexByte(rel, '/'); idx > 0 {
		return rel[:idx]
	}
	return ""
}

func categorize(c *Classification) string {
	switch c.FileType {
	case datastore.FileTypeAudio:
		lower := strings.ToLower(c.Filename)
		if strings.Contains(lower, "translation") || strings.Contains(lower, "_trans") {
			return CategoryTranslation
		}
		if c.Language != "" && c.Language != primaryLanguage {
			return CategoryTranslation
		}
		return CategoryTrack
	case datastore.FileTypeDocument:
		return CategoryTranscript
	default:
		return string(c.FileType)
	}
}
