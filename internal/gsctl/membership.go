package gsctl

import (
	"fmt"
	"regexp"
	"strings"
)

// PrimaryNormal is the marker gs_om prints for a healthy primary.
const PrimaryNormal = "Primary Normal"

var (
	chunkSplitRe = regexp.MustCompile(`\||\n`)
	ipv4Re       = regexp.MustCompile(`(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`)
	versionRe    = regexp.MustCompile(`gaussdb \((.*)\) .*`)
)

// Healthy reports whether the membership text shows a normal primary.
func Healthy(text string) bool {
	return strings.Contains(text, PrimaryNormal)
}

// MemberIPs returns, in order of appearance, the first IPv4 address of every
// field of the membership text. Duplicates are kept once.
func MemberIPs(text string) []string {
	seen := make(map[string]bool)
	var ips []string

	for _, chunk := range chunkSplitRe.Split(text, -1) {
		ip := ipv4Re.FindString(chunk)
		if ip == "" || seen[ip] {
			continue
		}
		seen[ip] = true
		ips = append(ips, ip)
	}

	return ips
}

// HasMember reports whether name followed by ip appears in the membership text.
// Both must be whole whitespace separated fields.
func HasMember(text, name, ip string) bool {
	re := regexp.MustCompile(fmt.Sprintf(`(^|\s)%s\s+%s(\s|$)`, regexp.QuoteMeta(name), regexp.QuoteMeta(ip)))

	return re.MatchString(text)
}

// HasInstance reports whether name, ip and later dataDir appear on one line of
// the membership text.
func HasInstance(text, name, ip, dataDir string) bool {
	re := regexp.MustCompile(fmt.Sprintf(`(?m)(^|\s)%s\s+%s\s.*%s(\s|$)`,
		regexp.QuoteMeta(name), regexp.QuoteMeta(ip), regexp.QuoteMeta(dataDir)))

	return re.MatchString(text)
}

// ParseVersion extracts the version from gaussdb --version output.
func ParseVersion(output string) (string, bool) {
	m := versionRe.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}

	return m[1], true
}
