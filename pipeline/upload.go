// ABOUTME: Canonicalizes uploaded reads into R1/R2.fastq|fasta and stores auxiliary files.
// ABOUTME: Format detection by filename first, then by peeking at decompressed content.
package pipeline

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// sniffLines bounds how far content detection scans for a first non-empty
// line.
const sniffLines = 200

// readKindFromName classifies a reads file by extension, tolerating .gz.
// Returns KindOther when the name says nothing.
func readKindFromName(name string) Kind {
	low := strings.ToLower(name)
	low = strings.TrimSuffix(low, ".gz")
	switch {
	case strings.HasSuffix(low, ".fastq"), strings.HasSuffix(low, ".fq"):
		return KindFastq
	case strings.HasSuffix(low, ".fasta"), strings.HasSuffix(low, ".fa"), strings.HasSuffix(low, ".fna"):
		return KindFasta
	default:
		return KindOther
	}
}

// sniffReadKind opens the stored temp file (decompressing when gzipped) and
// looks at the first non-empty line: @ means FASTQ, > means FASTA.
func sniffReadKind(path string, gzipped bool) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return KindOther, err
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return KindOther, fmt.Errorf("gzip: %w", err)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for i := 0; i < sniffLines && scanner.Scan(); i++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line[0] {
		case '@':
			return KindFastq, nil
		case '>':
			return KindFasta, nil
		default:
			return KindOther, nil
		}
	}
	return KindOther, nil
}

// SaveRead ingests one uploaded reads file for a channel (R1 or R2):
// content lands in a uuid-named temp file, gzip input is decompressed, and
// the result is renamed to the canonical R1.fastq / R1.fasta name. The
// returned artifact is not yet registered in any state.
func SaveRead(r io.Reader, filename, channel, sessionDir string) (Artifact, error) {
	tmp := filepath.Join(sessionDir, "__upload__"+uuid.New().String())
	if err := copyToFile(r, tmp); err != nil {
		return Artifact{}, err
	}

	gzipped := strings.HasSuffix(strings.ToLower(filename), ".gz")
	kind := readKindFromName(filename)
	if kind == KindOther {
		sniffed, err := sniffReadKind(tmp, gzipped)
		if err != nil || sniffed == KindOther {
			_ = os.Remove(tmp)
			return Artifact{}, badParams("unrecognized reads format for %q (expected FASTQ or FASTA)", filename)
		}
		kind = sniffed
	}

	if gzipped {
		plain := tmp + ".plain"
		if err := gunzipFile(tmp, plain); err != nil {
			_ = os.Remove(tmp)
			return Artifact{}, badParams("could not decompress %q: %v", filename, err)
		}
		_ = os.Remove(tmp)
		tmp = plain
	}

	canonical := channel + "." + string(kind)
	if err := os.Rename(tmp, filepath.Join(sessionDir, canonical)); err != nil {
		_ = os.Remove(tmp)
		return Artifact{}, fmt.Errorf("place %s: %w", canonical, err)
	}

	return Artifact{
		Name:     channel + "_raw",
		Path:     canonical,
		Kind:     kind,
		Channel:  channel,
		FromStep: UploadStep,
	}, nil
}

// AuxRole guesses the role of an auxiliary upload from its name: V-segment
// primers, constant-region primers, or nothing.
func AuxRole(filename string) string {
	low := strings.ToLower(filename)
	switch {
	case strings.Contains(low, "vprimer"),
		strings.Contains(low, "v_") && strings.Contains(low, ".fa"):
		return "v_primers"
	case strings.Contains(low, "cprimer"), strings.Contains(low, "constant"):
		return "c_primers"
	default:
		return ""
	}
}

// SaveAux stores an auxiliary upload verbatim under its own (sanitized)
// name and returns the guessed role, the stored name, and an artifact for
// the file. Names that try to escape the session directory are rejected.
func SaveAux(r io.Reader, filename, sessionDir string) (role, stored string, art Artifact, err error) {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "" || base == "." || base == ".." || strings.ContainsAny(base, "/\\") {
		return "", "", Artifact{}, badParams("invalid aux filename %q", filename)
	}
	if err := copyToFile(r, filepath.Join(sessionDir, base)); err != nil {
		return "", "", Artifact{}, err
	}
	art = Artifact{
		Name:     base,
		Path:     base,
		Kind:     KindForPath(base),
		FromStep: UploadStep,
	}
	return AuxRole(base), base, art, nil
}

func copyToFile(r io.Reader, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func gunzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return err
	}
	defer func() { _ = gz.Close() }()

	return copyToFile(gz, dst)
}
