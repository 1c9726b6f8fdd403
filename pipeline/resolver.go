// ABOUTME: Locates a tool's pass output in a session directory by prefix and stage tag.
// ABOUTME: Distinguishes "nothing passed" (fail-file present) from "output missing entirely".
package pipeline

import (
	"path/filepath"
	"sort"
	"strings"
)

// passExtensions is the fixed preference order for resolved outputs:
// compressed before uncompressed, fastq before fasta, tables last.
var passExtensions = []string{"fastq.gz", "fastq", "fasta.gz", "fasta", "tab.gz", "tab"}

// Resolver locates the output file a tool invocation should have produced.
// The returned path is relative to the session directory.
type Resolver interface {
	Resolve(sessionDir, prefix, tag string) (string, error)
}

// globResolver resolves outputs by globbing the session directory for the
// tool naming convention {prefix}*{tag}-pass.{ext}.
type globResolver struct{}

var _ Resolver = globResolver{}

// NewResolver returns the standard glob-based resolver.
func NewResolver() Resolver {
	return globResolver{}
}

// Resolve scans extensions in preference order and returns the
// lexicographically earliest pass-file for the first extension with any
// match. When no pass-file exists, a fail-file under the same prefix means
// the tool ran but nothing passed (NoRecordsError naming that file);
// otherwise the expected output is simply missing (MissingOutputError). The
// fail glob is prefix-scoped so stale fail-files from earlier steps cannot
// masquerade as this invocation's verdict.
func (globResolver) Resolve(sessionDir, prefix, tag string) (string, error) {
	for _, ext := range passExtensions {
		pattern := filepath.Join(sessionDir, prefix+"*"+tag+"-pass."+ext)
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		if len(matches) > 0 {
			sort.Strings(matches)
			return filepath.Base(matches[0]), nil
		}
	}

	for _, ext := range passExtensions {
		pattern := filepath.Join(sessionDir, prefix+"*-fail."+ext)
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		if len(matches) > 0 {
			sort.Strings(matches)
			return "", &NoRecordsError{FailFile: filepath.Base(matches[0])}
		}
	}

	return "", &MissingOutputError{Target: prefix + "*" + tag + "-pass.*"}
}

// KindForPath classifies a file by its extension, tolerating a .gz suffix.
func KindForPath(path string) Kind {
	name := strings.ToLower(filepath.Base(path))
	name = strings.TrimSuffix(name, ".gz")
	switch {
	case strings.HasSuffix(name, ".fastq"), strings.HasSuffix(name, ".fq"):
		return KindFastq
	case strings.HasSuffix(name, ".fasta"), strings.HasSuffix(name, ".fa"), strings.HasSuffix(name, ".fna"):
		return KindFasta
	case strings.HasSuffix(name, ".tab"), strings.HasSuffix(name, ".tsv"):
		return KindTab
	case strings.HasSuffix(name, ".log"):
		return KindLog
	default:
		return KindOther
	}
}
