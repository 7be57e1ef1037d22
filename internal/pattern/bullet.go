package pattern

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var bulletIDRe = regexp.MustCompile(`^([a-z][a-z0-9]{0,7})-(\d{5})$`)

// BulletPrefix derives the short prefix used in playbook bullet IDs.
//
// Catalog IDs such as "py-001" or "ts-bad-003" contribute their leading
// segment. Other IDs (UUIDs, free-form) fall back to the first three
// letters of the domain, and finally to "pat".
func BulletPrefix(r *Record) string {
	if head, _, ok := strings.Cut(r.ID, "-"); ok && isShortAlpha(head) {
		return strings.ToLower(head)
	}
	var b strings.Builder
	for _, c := range strings.ToLower(r.Domain) {
		if c >= 'a' && c <= 'z' {
			b.WriteRune(c)
			if b.Len() == 3 {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "pat"
	}
	return b.String()
}

// FormatBulletID renders a prefix and sequence number as "prefix-NNNNN".
func FormatBulletID(prefix string, seq int) string {
	return fmt.Sprintf("%s-%05d", prefix, seq)
}

// ParseBulletID splits a bullet ID into its prefix and sequence number.
func ParseBulletID(id string) (prefix string, seq int, ok bool) {
	m := bulletIDRe.FindStringSubmatch(id)
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], n, true
}

func isShortAlpha(s string) bool {
	if len(s) == 0 || len(s) > 4 {
		return false
	}
	for _, c := range s {
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}
