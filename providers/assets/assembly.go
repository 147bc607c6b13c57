package assets

import (
	"path"
	"sort"
	"strings"

	"github.com/frameloom/frameloom/providers/storage"
)

// RetryAfterMS is the client back-off hint returned while an assembly is
// still in progress.
const RetryAfterMS = 1500

// Assembly is the provider's status document for one processing assembly.
type Assembly struct {
	AssemblyID string                    `json:"assembly_id"`
	Ok         string                    `json:"ok"`
	Error      string                    `json:"error"`
	Message    string                    `json:"message"`
	Results    map[string][]AssemblyFile `json:"results"`
	Uploads    []AssemblyFile            `json:"uploads"`
}

// AssemblyFile is one produced or uploaded file inside an assembly.
type AssemblyFile struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	SSLURL    string `json:"ssl_url"`
	MimeType  string `json:"mime"`
	IsTempURL bool   `json:"is_temp_url"`
}

// BestURL prefers the TLS URL when present.
func (file AssemblyFile) BestURL() string {
	if file.SSLURL != "" {
		return file.SSLURL
	}
	return file.URL
}

// AssemblyState classifies an assembly status document.
type AssemblyState int

const (
	// StateCompleted means the assembly finished successfully.
	StateCompleted AssemblyState = iota
	// StateInProgress means the assembly is still uploading or executing.
	StateInProgress
	// StateFailed means the assembly reached a terminal failure.
	StateFailed
	// StateUnknown means the state name is not recognized.
	StateUnknown
)

var inProgressStates = map[string]bool{
	"ASSEMBLY_UPLOADING": true,
	"ASSEMBLY_EXECUTING": true,
	"ASSEMBLY_IMPORTING": true,
	"ASSEMBLY_WAITING":   true,
}

var failedStates = map[string]bool{
	"REQUEST_ABORTED":             true,
	"ASSEMBLY_CANCELED":           true,
	"ASSEMBLY_EXECUTION_REJECTED": true,
	"ASSEMBLY_ABORTED":            true,
}

// ClassifyState maps the assembly's reported state onto the four-way
// classification driving the resolver's HTTP status policy. Any error on the
// document is terminal regardless of the state name.
func ClassifyState(assembly *Assembly) AssemblyState {
	if assembly.Error != "" {
		return StateFailed
	}

	state := strings.ToUpper(assembly.Ok)
	switch {
	case state == "ASSEMBLY_COMPLETED":
		return StateCompleted
	case inProgressStates[state]:
		return StateInProgress
	case failedStates[state]:
		return StateFailed
	default:
		return StateUnknown
	}
}

// ResolvedOutput is the file picked out of a completed assembly.
type ResolvedOutput struct {
	File *AssemblyFile

	// HasWrongType reports that at least one candidate matched the opposite
	// media kind, so callers can answer with a kind-specific 422.
	HasWrongType bool
}

// ResolveOutput picks the first file of the expected kind from a completed
// assembly: results groups are flattened first, uploads after, preserving the
// provider's ordering. Temp-marked files are skipped unless allowTemp is set.
func ResolveOutput(assembly *Assembly, expectedKind storage.AssetKind, allowTemp bool) ResolvedOutput {
	resolved := ResolvedOutput{}

	for _, candidate := range flattenFiles(assembly) {
		if !allowTemp && candidate.IsTempURL {
			continue
		}
		if MatchesKind(candidate.MimeType, candidate.BestURL(), expectedKind) {
			file := candidate
			resolved.File = &file
			return resolved
		}
		if MatchesKind(candidate.MimeType, candidate.BestURL(), oppositeKind(expectedKind)) {
			resolved.HasWrongType = true
		}
	}

	return resolved
}

// flattenFiles lists every file in the assembly, results before uploads.
// Result groups are visited in sorted name order so resolution is
// deterministic regardless of map iteration.
func flattenFiles(assembly *Assembly) []AssemblyFile {
	groupNames := make([]string, 0, len(assembly.Results))
	for groupName := range assembly.Results {
		groupNames = append(groupNames, groupName)
	}
	sort.Strings(groupNames)

	flattened := make([]AssemblyFile, 0, len(assembly.Uploads))
	for _, groupName := range groupNames {
		flattened = append(flattened, assembly.Results[groupName]...)
	}
	return append(flattened, assembly.Uploads...)
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".avif": true, ".svg": true, ".bmp": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".webm": true, ".mkv": true,
	".avi": true, ".m4v": true,
}

// MatchesKind reports whether the MIME type, or failing that the URL
// extension, identifies the file as the given media kind.
func MatchesKind(mimeType, fileURL string, kind storage.AssetKind) bool {
	mime := strings.ToLower(strings.TrimSpace(mimeType))
	if mime != "" {
		return strings.HasPrefix(mime, MimeFamily(kind)+"/")
	}

	extension := strings.ToLower(path.Ext(stripQuery(fileURL)))
	if kind == storage.AssetImage {
		return imageExtensions[extension]
	}
	return videoExtensions[extension]
}

// MimeFamily maps an asset kind to its MIME type family ("image" or "video").
func MimeFamily(kind storage.AssetKind) string {
	if kind == storage.AssetVideo {
		return "video"
	}
	return "image"
}

func oppositeKind(kind storage.AssetKind) storage.AssetKind {
	if kind == storage.AssetImage {
		return storage.AssetVideo
	}
	return storage.AssetImage
}

func stripQuery(fileURL string) string {
	if index := strings.IndexAny(fileURL, "?#"); index >= 0 {
		return fileURL[:index]
	}
	return fileURL
}
