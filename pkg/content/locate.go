package content

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/scapworks/scapfetch/pkg/scap"
)

// Hints are the caller-supplied relative paths from the kickstart. An empty
// string means "no hint", never "match everything".
type Hints struct {
	ContentPath   string
	CPEPath       string
	TailoringPath string
	DatastreamID  string
	BenchmarkID   string
}

// Locate finds the usable files below root. entries are the paths relative
// to root, in extraction order; for non-archive content this is just the
// single fetched file. want is the content type the caller expects inside
// (plain XCCDF or datastream).
//
// An explicit hint that matches an entry wins, case-sensitively first and
// case-insensitively second. Without a matching hint, files are classified
// by their root element and a single candidate of the wanted class is used.
// Zero candidates for the content file is a ContentPathNotFoundError, more
// than one is an AmbiguousContentPathError. The CPE and tailoring files are
// optional and their absence is fine.
func Locate(root string, entries []string, want scap.ContentType, hints Hints) (scap.ContentPaths, error) {
	paths := scap.ContentPaths{
		DatastreamID: hints.DatastreamID,
		BenchmarkID:  hints.BenchmarkID,
	}

	contentRel, err := findRequired(root, entries, want, hints.ContentPath)
	if err != nil {
		return scap.ContentPaths{}, err
	}
	paths.ContentFile = filepath.Join(root, contentRel)
	switch ClassifyFile(paths.ContentFile) {
	case ClassDatastream:
		paths.Type = scap.ContentTypeDatastream
	default:
		paths.Type = scap.ContentTypePlainXCCDF
	}

	if rel := findOptional(root, entries, ClassCPEDictionary, hints.CPEPath, "cpe"); rel != "" {
		paths.CPEPath = filepath.Join(root, rel)
	}
	if rel := findOptional(root, entries, ClassTailoring, hints.TailoringPath, "tailoring"); rel != "" {
		paths.TailoringPath = filepath.Join(root, rel)
	}
	return paths, nil
}

// ListDir returns the relative paths of the regular files below root, for
// content that did not come out of an archive.
func ListDir(root string) ([]string, error) {
	var entries []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		entries = append(entries, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list content dir: %w", err)
	}
	sort.Strings(entries)
	return entries, nil
}

func findRequired(root string, entries []string, want scap.ContentType, hint string) (string, error) {
	if rel, err := matchHint(entries, hint, "content"); err != nil {
		return "", err
	} else if rel != "" {
		return rel, nil
	}

	wantClass := ClassBenchmark
	if want == scap.ContentTypeDatastream || want == scap.ContentTypeArchiveDatastream || want == scap.ContentTypeRPM {
		wantClass = ClassDatastream
	}

	candidates := scanClass(root, entries, wantClass)
	if len(candidates) == 0 {
		// The archive may carry the other flavor than declared; accept it
		// and let the session load what is really there.
		other := ClassDatastream
		if wantClass == ClassDatastream {
			other = ClassBenchmark
		}
		candidates = scanClass(root, entries, other)
	}

	switch len(candidates) {
	case 0:
		return "", &scap.ContentPathNotFoundError{Role: "content", Hint: hint}
	case 1:
		return candidates[0], nil
	default:
		return "", &scap.AmbiguousContentPathError{Role: "content", Candidates: candidates}
	}
}

func findOptional(root string, entries []string, class DocClass, hint, role string) string {
	if rel, err := matchHint(entries, hint, role); err == nil && rel != "" {
		return rel
	}

	candidates := scanClass(root, entries, class)
	if len(candidates) == 1 {
		return candidates[0]
	}
	if len(candidates) > 1 {
		// Optional files do not fail the fetch on ambiguity; the operator
		// can still pass an explicit path.
		log.Warn().Str("role", role).Strs("candidates", candidates).Msg("multiple optional content candidates, using none")
	}
	return ""
}

// matchHint resolves an explicit relative path hint against the entry list,
// trying a case-sensitive match first and a case-insensitive one second. An
// empty hint matches nothing. An ambiguous case-insensitive match is an
// error; a hint that matches nothing falls back to scanning ("" result).
func matchHint(entries []string, hint, role string) (string, error) {
	if hint == "" {
		return "", nil
	}
	hint = strings.TrimPrefix(filepath.ToSlash(hint), "/")

	for _, e := range entries {
		if filepath.ToSlash(e) == hint {
			return e, nil
		}
	}

	var insensitive []string
	for _, e := range entries {
		if strings.EqualFold(filepath.ToSlash(e), hint) {
			insensitive = append(insensitive, e)
		}
	}
	switch len(insensitive) {
	case 0:
		return "", nil
	case 1:
		return insensitive[0], nil
	default:
		return "", &scap.AmbiguousContentPathError{Role: role, Candidates: insensitive}
	}
}

func scanClass(root string, entries []string, class DocClass) []string {
	var out []string
	for _, e := range entries {
		if !strings.HasSuffix(strings.ToLower(e), ".xml") {
			continue
		}
		if ClassifyFile(filepath.Join(root, e)) == class {
			out = append(out, e)
		}
	}
	return out
}
