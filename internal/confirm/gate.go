// Package confirm is the itemized approval checkpoint between inventory and
// deletion. The gate is pure: it builds prompts and validates answers but
// performs no I/O.
package confirm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/yairfalse/wipeit/pkg/resource"
)

// Prompt is the itemized enumeration a human must see before approving.
type Prompt struct {
	// Text enumerates every (kind, id) pair.
	Text string `json:"text"`
	// Digest fingerprints the exact enumeration. An approval must echo it.
	Digest string `json:"digest"`
	// Total is the number of requested deletions.
	Total int `json:"total"`
	// Skipped lists references withheld by the protection policy.
	Skipped []resource.Ref `json:"skipped,omitempty"`

	selection resource.Selection
}

// RequiresConfirmation builds the prompt for sel. skipped references are
// listed for information only and are never part of the approved selection.
func RequiresConfirmation(sel resource.Selection, skipped []resource.Ref) Prompt {
	var b strings.Builder
	reqs := sel.Requests()
	total := sel.Count()

	fmt.Fprintf(&b, "The following %d resource(s) will be PERMANENTLY deleted:\n", total)
	for _, req := range reqs {
		note := ""
		if !req.Kind.Valid() {
			note = ", unsupported kind, will be reported as failed"
		}
		fmt.Fprintf(&b, "\n  %s (%d%s)\n", req.Kind, len(req.IDs), note)
		for _, id := range req.IDs {
			fmt.Fprintf(&b, "    - %s\n", id)
		}
	}
	if len(skipped) > 0 {
		fmt.Fprintf(&b, "\nProtected by policy, will NOT be deleted (%d):\n", len(skipped))
		for _, ref := range skipped {
			fmt.Fprintf(&b, "    - %s\n", ref)
		}
	}

	return Prompt{
		Text:      b.String(),
		Digest:    Digest(sel),
		Total:     total,
		Skipped:   skipped,
		selection: sel.Clone(),
	}
}

// Digest fingerprints a selection over its canonical request order.
func Digest(sel resource.Selection) string {
	h := sha256.New()
	for _, req := range sel.Requests() {
		for _, id := range req.IDs {
			fmt.Fprintf(h, "%s\n", resource.FormatRef(req.Kind, id))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Approval is the only value the deletion engine accepts. It can only be
// minted by Approve, so no code path reaches deletion without a prompt.
type Approval struct {
	selection resource.Selection
	digest    string
}

// Approve converts an answer to a prompt into an approval. A negative answer
// or a digest that does not match the prompt yields an empty approval.
func Approve(p Prompt, digest string, confirmed bool) (Approval, error) {
	if !confirmed {
		return Approval{}, nil
	}
	if digest != p.Digest {
		return Approval{}, fmt.Errorf("confirmation does not match the presented selection")
	}
	return Approval{selection: p.selection.Clone(), digest: p.Digest}, nil
}

// Approved reports whether the approval authorizes any deletion.
func (a Approval) Approved() bool {
	return a.digest != "" && a.selection.Count() > 0
}

// Selection returns the approved selection, or an empty one.
func (a Approval) Selection() resource.Selection {
	if !a.Approved() {
		return resource.Selection{}
	}
	return a.selection.Clone()
}

// Digest returns the digest of the approved prompt.
func (a Approval) Digest() string {
	return a.digest
}
