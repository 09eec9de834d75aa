package constants

import "strings"

// Format is the coarse file format used to pick an extraction strategy.
type Format string

const (
	PDF   Format = "PDF"
	IMAGE Format = "IMAGE"
	DOCX  Format = "DOCX"
	XLSX  Format = "XLSX"
	TEXT  Format = "TEXT"
)

// FileTypes holds the allowed format values for task records.
var FileTypes = []string{string(PDF), string(IMAGE), string(DOCX), string(XLSX), string(TEXT)}

// AllowedExtensions holds the default allowed file extensions for ingestion.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"tif":  {},
	"tiff": {},
	"bmp":  {},
	"webp": {},
	"docx": {},
	"xlsx": {},
	"txt":  {},
	"md":   {},
	"csv":  {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFormat maps a normalized extension to its extraction format.
// Returns "" for unsupported extensions.
func MapExtToFormat(ext string) Format {
	switch NormalizeExt(ext) {
	case "pdf":
		return PDF
	case "jpg", "jpeg", "png", "tif", "tiff", "bmp", "webp":
		return IMAGE
	case "docx":
		return DOCX
	case "xlsx", "xlsm":
		return XLSX
	case "txt", "md", "csv", "log":
		return TEXT
	}
	return ""
}
