package models

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// mentionPattern matches @handles that are not part of an email address.
var mentionPattern = regexp.MustCompile(`(?:^|[^\w.@])@([A-Za-z0-9](?:[A-Za-z0-9-]{0,37}[A-Za-z0-9])?)`)

// ExtractMentions returns the distinct handles mentioned in body, sorted.
func ExtractMentions(body string) Strings {
	matches := mentionPattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return Strings{}
	}
	seen := make(map[string]struct{}, len(matches))
	out := make(Strings, 0, len(matches))
	for _, m := range matches {
		handle := strings.ToLower(m[1])
		if _, ok := seen[handle]; ok {
			continue
		}
		seen[handle] = struct{}{}
		out = append(out, handle)
	}
	sort.Strings(out)
	return out
}

type fingerprint struct {
	d *xxhash.Digest
}

func newFingerprint() fingerprint {
	return fingerprint{d: xxhash.New()}
}

func (f fingerprint) str(s string) fingerprint {
	_, _ = f.d.WriteString(s)
	_, _ = f.d.Write([]byte{0})
	return f
}

func (f fingerprint) time(t *time.Time) fingerprint {
	if t == nil || t.IsZero() {
		return f.str("")
	}
	return f.str(t.UTC().Format(time.RFC3339))
}

func (f fingerprint) flag(b bool) fingerprint {
	return f.str(strconv.FormatBool(b))
}

func (f fingerprint) sum() string {
	return strconv.FormatUint(f.d.Sum64(), 16)
}

func (i Item) fingerprint() fingerprint {
	fp := newFingerprint().
		str(i.Title).
		str(i.Body).
		str(i.State).
		str(i.Author).
		str(i.HTMLURL).
		str(i.Milestone).
		time(&i.CreatedAt).
		time(&i.UpdatedAt).
		time(i.ClosedAt)
	for _, l := range i.Labels {
		fp = fp.str(l.Name).str(l.Color).str(l.Description)
	}
	fp = fp.str("|")
	for _, a := range i.Assignees {
		fp = fp.str(a.Login).str(a.AvatarURL).str(a.HTMLURL)
	}
	return fp
}

// Fingerprint hashes every GitHub-sourced column of the issue. Two fetches of an unchanged
// issue produce the same value, so the store can tell "re-seen" from "changed".
func (i *Issue) Fingerprint() string {
	return i.Item.fingerprint().sum()
}

// Fingerprint hashes every GitHub-sourced column of the pull request.
func (p *PullRequest) Fingerprint() string {
	return p.Item.fingerprint().
		flag(p.Draft).
		flag(p.Merged).
		time(p.MergedAt).
		str(p.BaseRef).
		str(p.HeadRef).
		sum()
}
