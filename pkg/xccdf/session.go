package xccdf

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/scapworks/scapfetch/pkg/scap"
)

// State is the lifecycle position of a Session. Transitions only ever move
// forward: Unopened → ContentLoaded → TailoringAttached (optional) →
// ProfileSelected → Validated.
type State int

const (
	StateUnopened State = iota
	StateContentLoaded
	StateTailoringAttached
	StateProfileSelected
	StateValidated
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateContentLoaded:
		return "content-loaded"
	case StateTailoringAttached:
		return "tailoring-attached"
	case StateProfileSelected:
		return "profile-selected"
	case StateValidated:
		return "validated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session owns the loaded content, the optional tailoring document and the
// selected profile. Callers outside this package only ever see a session
// after Validate succeeded; there is no partially-valid session visible to
// the evaluation runner.
type Session struct {
	paths     scap.ContentPaths
	state     State
	doc       *Document
	tailoring *Document
	profiles  []scap.Profile
	selected  string
}

// NewSession creates an unopened session over the located content paths.
func NewSession(paths scap.ContentPaths) *Session {
	return &Session{paths: paths}
}

// Load opens the content document and enumerates its profiles. The profile
// set is immutable from here on; tailoring adds a derived profile via a
// separate document instead of mutating the content.
func (s *Session) Load() error {
	if s.state != StateUnopened {
		return fmt.Errorf("load: session already %s", s.state)
	}

	doc, err := LoadDocument(s.paths.ContentFile)
	if err != nil {
		return err
	}
	if err := checkIDs(doc, s.paths); err != nil {
		return err
	}

	s.doc = doc
	s.profiles = doc.Profiles()
	s.state = StateContentLoaded
	log.Debug().Str("content", s.paths.ContentFile).Int("profiles", len(s.profiles)).Msg("content loaded")
	return nil
}

// AttachTailoring loads the session's tailoring document and extends the
// selectable profile list with the profiles it declares. It is skipped
// entirely when the content has no tailoring file.
func (s *Session) AttachTailoring() error {
	if s.state != StateContentLoaded {
		return fmt.Errorf("attach tailoring: session is %s, want %s", s.state, StateContentLoaded)
	}
	if s.paths.TailoringPath == "" {
		return nil
	}

	doc, err := LoadDocument(s.paths.TailoringPath)
	if err != nil {
		return err
	}
	s.tailoring = doc
	s.profiles = append(s.profiles, doc.Profiles()...)
	s.state = StateTailoringAttached
	return nil
}

// ApplyTailoring merges a kickstart tailoring selection into a freshly
// written tailoring document under dir and attaches it. When a tailoring
// file shipped with the content was already attached, the kickstart-derived
// document replaces it for the evaluation run; its profiles stay
// selectable.
func (s *Session) ApplyTailoring(sel scap.TailoringSelection, dir string) error {
	if s.state != StateContentLoaded && s.state != StateTailoringAttached {
		return fmt.Errorf("apply tailoring: session is %s", s.state)
	}

	path, derivedID, err := BuildTailoring(sel, s.profiles, dir)
	if err != nil {
		return err
	}

	base, _ := s.profileByID(sel.BaseProfileID)
	s.profiles = append(s.profiles, scap.Profile{ID: derivedID, Title: base.Title + " (tailored)"})
	s.paths.TailoringPath = path
	s.state = StateTailoringAttached
	return nil
}

func (s *Session) profileByID(id string) (scap.Profile, bool) {
	idx := slices.IndexFunc(s.profiles, func(p scap.Profile) bool { return p.ID == id })
	if idx < 0 {
		return scap.Profile{}, false
	}
	return s.profiles[idx], true
}

// SelectProfile picks the profile to evaluate. An empty id means "use the
// content's declared default": if exactly one default exists it is
// selected, otherwise the caller gets scap.ErrNoDefaultProfile instead of a
// silently-picked first profile. An id absent from the (possibly
// tailoring-extended) profile list is a scap.UnknownProfileError.
func (s *Session) SelectProfile(id string) error {
	if s.state != StateContentLoaded && s.state != StateTailoringAttached {
		return fmt.Errorf("select profile: session is %s", s.state)
	}

	if id == "" {
		defaultID, ok := DefaultProfileID(s.profiles)
		if !ok {
			return scap.ErrNoDefaultProfile
		}
		id = defaultID
	}

	idx := slices.IndexFunc(s.profiles, func(p scap.Profile) bool { return p.ID == id })
	if idx < 0 {
		return &scap.UnknownProfileError{ProfileID: id}
	}
	for i := range s.profiles {
		s.profiles[i].Selected = i == idx
	}
	s.selected = id
	s.state = StateProfileSelected
	return nil
}

// Validate runs the final consistency check before the session is handed to
// the evaluation runner. It is idempotent and side-effect free, so it can
// be re-run to re-validate cheaply.
func (s *Session) Validate() error {
	if s.state != StateProfileSelected && s.state != StateValidated {
		return fmt.Errorf("validate: session is %s", s.state)
	}

	if !slices.ContainsFunc(s.profiles, func(p scap.Profile) bool { return p.ID == s.selected && p.Selected }) {
		return &scap.UnknownProfileError{ProfileID: s.selected}
	}
	if err := checkIDs(s.doc, s.paths); err != nil {
		return err
	}

	s.state = StateValidated
	return nil
}

// checkIDs verifies the kickstart-requested datastream and benchmark ids
// against what the content actually declares.
func checkIDs(doc *Document, paths scap.ContentPaths) error {
	if paths.DatastreamID != "" {
		if !doc.IsDatastream() {
			return &scap.ContentLoadError{Path: paths.ContentFile, Err: fmt.Errorf("datastream id %q requested but content is not a datastream", paths.DatastreamID)}
		}
		if !slices.Contains(doc.DatastreamIDs(), paths.DatastreamID) {
			return &scap.ContentLoadError{Path: paths.ContentFile, Err: fmt.Errorf("datastream id %q not present in content", paths.DatastreamID)}
		}
	}
	if paths.BenchmarkID != "" && !slices.Contains(doc.BenchmarkIDs(), paths.BenchmarkID) {
		return &scap.ContentLoadError{Path: paths.ContentFile, Err: fmt.Errorf("benchmark id %q not present in content", paths.BenchmarkID)}
	}
	return nil
}

// State returns the session's lifecycle state.
func (s *Session) State() State { return s.state }

// Profiles returns the selectable profiles, including any added by an
// attached tailoring document.
func (s *Session) Profiles() []scap.Profile {
	out := make([]scap.Profile, len(s.profiles))
	copy(out, s.profiles)
	return out
}

// SelectedProfile returns the selected profile, if any.
func (s *Session) SelectedProfile() (scap.Profile, bool) {
	for _, p := range s.profiles {
		if p.Selected {
			return p, true
		}
	}
	return scap.Profile{}, false
}

// Paths returns the session's resolved content paths.
func (s *Session) Paths() scap.ContentPaths { return s.paths }

// ContentDir returns the directory holding the session's content file, for
// the post-install copy of content and results.
func (s *Session) ContentDir() string { return filepath.Dir(s.paths.ContentFile) }
