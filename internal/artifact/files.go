package artifact

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var digitRun = regexp.MustCompile(`[0-9]+`)

// OrderKey returns the first run of digits in name with leading zeros
// stripped, and whether one was found.
func OrderKey(name string) (string, bool) {
	run := digitRun.FindString(name)
	if run == "" {
		return "", false
	}
	trimmed := strings.TrimLeft(run, "0")
	if trimmed == "" {
		trimmed = "0"
	}
	return trimmed, true
}

// lessNumeric compares two digit strings without leading zeros by value.
func lessNumeric(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// SortByOrderKey sorts file names by the numeric value of their first digit
// run, so "q_2" precedes "q_10". Names without digits go last. Ties break by name.
func SortByOrderKey(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		ki, oki := OrderKey(names[i])
		kj, okj := OrderKey(names[j])
		switch {
		case oki && !okj:
			return true
		case !oki && okj:
			return false
		case oki && okj && ki != kj:
			return lessNumeric(ki, kj)
		}
		return names[i] < names[j]
	})
}

// ListVerificationFiles returns the regular files in dir whose extension
// matches ext (any extension when ext is empty), in query order.
func ListVerificationFiles(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if ext != "" && !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		names = append(names, e.Name())
	}
	SortByOrderKey(names)

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

// ReadVerificationDir reads every verification file in dir in query order.
func ReadVerificationDir(dir, ext string) ([]VerificationRecord, error) {
	paths, err := ListVerificationFiles(dir, ext)
	if err != nil {
		return nil, err
	}
	records := make([]VerificationRecord, len(paths))
	for i, p := range paths {
		records[i] = ReadVerificationFile(p)
	}
	return records, nil
}
