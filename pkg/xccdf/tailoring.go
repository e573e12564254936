package xccdf

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/scapworks/scapfetch/pkg/constant"
	"github.com/scapworks/scapfetch/pkg/scap"
	"github.com/scapworks/scapfetch/pkg/secure"
)

const xccdfNamespace = "http://checklists.nist.gov/xccdf/1.2"

// timeNow is stubbed in tests.
var timeNow = time.Now

// BuildTailoring merges a kickstart tailoring selection into a new XCCDF
// tailoring document written under dir, and returns the document path and
// the derived profile id. The derived profile extends the named base
// profile with the rule deltas applied; the original content file is never
// touched.
//
// The derived id is deterministic: the same base id and delta set always
// produce the same id, so re-running a fetch reuses the same profile
// instead of piling up copies.
func BuildTailoring(sel scap.TailoringSelection, profiles []scap.Profile, dir string) (string, string, error) {
	baseIdx := slices.IndexFunc(profiles, func(p scap.Profile) bool { return p.ID == sel.BaseProfileID })
	if baseIdx < 0 {
		return "", "", &scap.UnknownBaseProfileError{ProfileID: sel.BaseProfileID}
	}
	base := profiles[baseIdx]
	derivedID := DerivedProfileID(sel)

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("xccdf:Tailoring")
	root.CreateAttr("xmlns:xccdf", xccdfNamespace)
	root.CreateAttr("id", "xccdf_org.scapworks.scapfetch_tailoring_kickstart")

	version := root.CreateElement("xccdf:version")
	version.CreateAttr("time", timeNow().UTC().Format(time.RFC3339))
	version.SetText("1")

	profile := root.CreateElement("xccdf:Profile")
	profile.CreateAttr("id", derivedID)
	profile.CreateAttr("extends", base.ID)
	title := profile.CreateElement("xccdf:title")
	if base.Title != "" {
		title.SetText(base.Title + " (tailored)")
	} else {
		title.SetText(base.ID + " (tailored)")
	}
	for _, delta := range sel.Deltas {
		selectEl := profile.CreateElement("xccdf:select")
		selectEl.CreateAttr("idref", delta.RuleID)
		selectEl.CreateAttr("selected", strconv.FormatBool(delta.Selected))
	}

	doc.Indent(2)
	raw, err := doc.WriteToBytes()
	if err != nil {
		return "", "", fmt.Errorf("serialize tailoring document: %w", err)
	}

	path := filepath.Join(dir, "tailoring-"+shortHash(sel)+".xml")
	out, err := secure.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, constant.DefaultWorldReadableFileMode)
	if err != nil {
		return "", "", fmt.Errorf("write tailoring document: %w", err)
	}
	defer out.Close()
	if _, err := out.Write(raw); err != nil {
		return "", "", fmt.Errorf("write tailoring document: %w", err)
	}
	return path, derivedID, nil
}

// DerivedProfileID computes the deterministic id of the profile derived
// from a tailoring selection: the base id plus a digest of the canonical
// (sorted) delta set.
func DerivedProfileID(sel scap.TailoringSelection) string {
	return sel.BaseProfileID + "_tailored_" + shortHash(sel)
}

func shortHash(sel scap.TailoringSelection) string {
	canonical := make([]string, 0, len(sel.Deltas))
	for _, d := range sel.Deltas {
		canonical = append(canonical, d.RuleID+"="+strconv.FormatBool(d.Selected))
	}
	slices.Sort(canonical)

	h := sha256.New()
	h.Write([]byte(sel.BaseProfileID))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(canonical, "\n")))
	return hex.EncodeToString(h.Sum(nil))[:12]
}
