package project

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// slugPattern is the invariant every project name must satisfy. The slug is
// immutable once the project directory exists; only the title is editable.
var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-_]*$`)

// separatorRunRe matches runs of two or more separator characters.
var separatorRunRe = regexp.MustCompile(`[-_]{2,}`)

// Sanitize derives a filesystem-safe slug from a user-entered title:
// lowercase, characters outside [a-z0-9-_] become hyphens, runs of
// separators collapse, and leading/trailing separators are trimmed.
// Returns "" when nothing usable remains.
func Sanitize(title string) string {
	lower := strings.ToLower(strings.TrimSpace(title))

	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}

	// Any run of separators collapses to one; a hyphen anywhere in the run
	// wins over underscores.
	slug := separatorRunRe.ReplaceAllStringFunc(b.String(), func(run string) string {
		if strings.ContainsRune(run, '-') {
			return "-"
		}
		return "_"
	})
	slug = strings.Trim(slug, "-_")

	if !slugPattern.MatchString(slug) {
		return ""
	}
	return slug
}

// ValidName reports whether name already satisfies the slug invariant.
func ValidName(name string) bool {
	return slugPattern.MatchString(name)
}

// ValidateNewTitle sanitizes a candidate title and rejects it when the slug
// is empty or already used by another project under workspace. Uniqueness
// is checked at creation time only.
func ValidateNewTitle(workspace, title string) (string, error) {
	slug := Sanitize(title)
	if slug == "" {
		return "", fmt.Errorf("project title %q produces an empty name", title)
	}
	if _, err := os.Stat(Dir(workspace, slug)); err == nil {
		return "", fmt.Errorf("project %q already exists", slug)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("checking project %q: %w", slug, err)
	}
	return slug, nil
}

// List returns the slugs of every project directory under workspace.
func List(workspace string) ([]string, error) {
	entries, err := os.ReadDir(Root(workspace))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && ValidName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
