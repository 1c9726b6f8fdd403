// ABOUTME: Generates the R programs that implement single-cell table operations.
// ABOUTME: Each build yields a self-contained script plus the argv and expected outputs.
package rtable

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/template"
)

// Op identifies one table operation.
type Op string

const (
	OpMergeSamples     Op = "merge_samples"
	OpFilterProductive Op = "filter_productive"
	OpRemoveMultiHeavy Op = "remove_multi_heavy"
	OpRemoveNoHeavy    Op = "remove_no_heavy"
)

// Request describes one merge-or-filter run over AIRR-style TSV files. All
// paths are relative to the directory the script will run in.
type Request struct {
	Op    Op
	Files []string

	// Mode is "merge" (one combined output) or "per_file".
	Mode          string
	MergedName    string
	PerFilePrefix string

	// SampleField, when non-empty, is the origin column stamped onto
	// merged rows.
	SampleField string

	// AuxTypes maps column names to R coercions: i, d, n, l, c.
	AuxTypes map[string]string

	ProductiveField  string
	FallbackFromAIRR bool

	LocusField        string
	HeavyValue        string
	LightValues       []string
	CellField         string
	FallbackFromVCall bool
}

// Script is a generated R program. Name is the filename to create inside
// the working directory, Argv runs it, Outputs lists every file the script
// will write (per_file outputs may legitimately end up empty or absent).
type Script struct {
	Name    string
	Source  string
	Argv    []string
	Outputs []string
}

// rQuote renders a Go string as an R double-quoted string literal.
func rQuote(s string) string {
	return strconv.Quote(s)
}

// rVector renders a character vector literal.
func rVector(items []string) string {
	if len(items) == 0 {
		return "character(0)"
	}
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = rQuote(it)
	}
	return "c(" + strings.Join(quoted, ", ") + ")"
}

// rNamedVector renders a named character vector literal with stable order.
func rNamedVector(m map[string]string) string {
	if len(m) == 0 {
		return "character(0)"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s = %s", rQuote(k), rQuote(m[k]))
	}
	return "c(" + strings.Join(parts, ", ") + ")"
}

func rBool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// Stem strips the .tsv / .tsv.gz suffix and any directory from a table
// filename, matching the stem() helper inside the generated scripts.
func Stem(path string) string {
	base := path
	if i := strings.LastIndexAny(base, "/\\"); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSuffix(base, ".gz")
	base = strings.TrimSuffix(base, ".tsv")
	return base
}

// preamble is shared by every generated script: plain base-R table IO that
// tolerates gzipped inputs and ragged column sets.
const preamble = `options(stringsAsFactors = FALSE)

read_table <- function(path) {
  read.delim(path, sep = "\t", header = TRUE, colClasses = "character",
    check.names = FALSE, na.strings = c("", "NA"))
}

write_table <- function(df, path) {
  write.table(df, path, sep = "\t", quote = FALSE, row.names = FALSE, na = "")
}

stem <- function(path) sub("\\.tsv(\\.gz)?$", "", basename(path))

bind_union <- function(frames) {
  cols <- unique(unlist(lapply(frames, names)))
  frames <- lapply(frames, function(df) {
    for (m in setdiff(cols, names(df))) df[[m]] <- NA
    df[, cols, drop = FALSE]
  })
  do.call(rbind, frames)
}

is_true <- function(v) tolower(trimws(as.character(v))) %in% c("true", "t", "1", "yes")
`

var mergeTmpl = template.Must(template.New("merge").Parse(preamble + `
files <- {{.Files}}
sample_field <- {{.SampleField}}
out_name <- {{.MergedName}}
type_specs <- {{.AuxTypes}}

coerce_types <- function(df) {
  for (col in names(type_specs)) {
    if (!(col %in% names(df))) next
    df[[col]] <- switch(type_specs[[col]],
      i = as.integer(df[[col]]),
      d = as.numeric(df[[col]]),
      n = as.numeric(df[[col]]),
      l = as.logical(df[[col]]),
      df[[col]])
  }
  df
}

frames <- lapply(files, function(f) {
  df <- coerce_types(read_table(f))
  if (nzchar(sample_field)) df[[sample_field]] <- stem(f)
  df
})
write_table(bind_union(frames), out_name)
`))

var productiveTmpl = template.Must(template.New("productive").Parse(preamble + `
files <- {{.Files}}
mode <- {{.Mode}}
sample_field <- {{.SampleField}}
out_name <- {{.MergedName}}
out_prefix <- {{.PerFilePrefix}}
productive_field <- {{.ProductiveField}}
fallback_airr <- {{.FallbackFromAIRR}}

keep_productive <- function(df) {
  if (productive_field %in% names(df)) {
    keep <- is_true(df[[productive_field]])
  } else if (fallback_airr && all(c("vj_in_frame", "stop_codon") %in% names(df))) {
    keep <- is_true(df[["vj_in_frame"]]) & !is_true(df[["stop_codon"]])
  } else {
    warning(sprintf("no '%s' column and no AIRR frame columns; keeping all rows", productive_field))
    keep <- rep(TRUE, nrow(df))
  }
  df[keep, , drop = FALSE]
}

frames <- lapply(files, function(f) keep_productive(read_table(f)))
if (mode == "merge") {
  stamped <- lapply(seq_along(files), function(i) {
    df <- frames[[i]]
    if (nzchar(sample_field)) df[[sample_field]] <- stem(files[[i]])
    df
  })
  write_table(bind_union(stamped), out_name)
} else {
  for (i in seq_along(files)) {
    write_table(frames[[i]], paste0(out_prefix, stem(files[[i]]), ".tsv"))
  }
}
`))

// locusHelpers holds the shared cell/locus machinery for the two heavy
// chain filters.
const locusHelpers = `
with_locus <- function(df) {
  if (!(locus_field %in% names(df))) {
    if (fallback_vcall && ("v_call" %in% names(df))) {
      df[[locus_field]] <- toupper(substr(as.character(df[["v_call"]]), 1, 3))
    } else {
      stop(sprintf("column '%s' not found", locus_field))
    }
  }
  if (!(cell_field %in% names(df))) stop(sprintf("column '%s' not found", cell_field))
  df
}
`

var multiHeavyTmpl = template.Must(template.New("multiheavy").Parse(preamble + `
files <- {{.Files}}
mode <- {{.Mode}}
sample_field <- {{.SampleField}}
out_name <- {{.MergedName}}
out_prefix <- {{.PerFilePrefix}}
locus_field <- {{.LocusField}}
heavy_value <- {{.HeavyValue}}
cell_field <- {{.CellField}}
fallback_vcall <- {{.FallbackFromVCall}}
` + locusHelpers + `
drop_multi_heavy <- function(df) {
  df <- with_locus(df)
  heavy <- df[[locus_field]] == heavy_value
  counts <- table(df[[cell_field]][heavy])
  multi <- names(counts[counts > 1])
  df[!(df[[cell_field]] %in% multi), , drop = FALSE]
}

frames <- lapply(files, function(f) drop_multi_heavy(read_table(f)))
if (mode == "merge") {
  stamped <- lapply(seq_along(files), function(i) {
    df <- frames[[i]]
    if (nzchar(sample_field)) df[[sample_field]] <- stem(files[[i]])
    df
  })
  write_table(bind_union(stamped), out_name)
} else {
  for (i in seq_along(files)) {
    write_table(frames[[i]], paste0(out_prefix, stem(files[[i]]), ".tsv"))
  }
}
`))

var noHeavyTmpl = template.Must(template.New("noheavy").Parse(preamble + `
files <- {{.Files}}
mode <- {{.Mode}}
sample_field <- {{.SampleField}}
out_name <- {{.MergedName}}
out_prefix <- {{.PerFilePrefix}}
locus_field <- {{.LocusField}}
heavy_value <- {{.HeavyValue}}
light_values <- {{.LightValues}}
cell_field <- {{.CellField}}
fallback_vcall <- {{.FallbackFromVCall}}
` + locusHelpers + `
drop_no_heavy <- function(df) {
  df <- with_locus(df)
  heavy_cells <- unique(df[[cell_field]][df[[locus_field]] == heavy_value])
  orphan_light <- !(df[[cell_field]] %in% heavy_cells) & (df[[locus_field]] %in% light_values)
  df[!orphan_light, , drop = FALSE]
}

frames <- lapply(files, function(f) drop_no_heavy(read_table(f)))
if (mode == "merge") {
  stamped <- lapply(seq_along(files), function(i) {
    df <- frames[[i]]
    if (nzchar(sample_field)) df[[sample_field]] <- stem(files[[i]])
    df
  })
  write_table(bind_union(stamped), out_name)
} else {
  for (i in seq_along(files)) {
    write_table(frames[[i]], paste0(out_prefix, stem(files[[i]]), ".tsv"))
  }
}
`))

// templateValues carries pre-rendered R literals into the templates.
type templateValues struct {
	Files             string
	Mode              string
	SampleField       string
	MergedName        string
	PerFilePrefix     string
	AuxTypes          string
	ProductiveField   string
	FallbackFromAIRR  string
	LocusField        string
	HeavyValue        string
	LightValues       string
	CellField         string
	FallbackFromVCall string
}

// Build renders the script for a request. scriptName is the filename the
// caller will write the source to; it also becomes the sole Rscript
// argument since every value is embedded in the program.
func Build(scriptName string, req Request) (Script, error) {
	if len(req.Files) == 0 {
		return Script{}, fmt.Errorf("no input files")
	}
	if req.Mode != "merge" && req.Mode != "per_file" {
		return Script{}, fmt.Errorf("invalid mode %q", req.Mode)
	}

	vals := templateValues{
		Files:             rVector(req.Files),
		Mode:              rQuote(req.Mode),
		SampleField:       rQuote(req.SampleField),
		MergedName:        rQuote(req.MergedName),
		PerFilePrefix:     rQuote(req.PerFilePrefix),
		AuxTypes:          rNamedVector(req.AuxTypes),
		ProductiveField:   rQuote(req.ProductiveField),
		FallbackFromAIRR:  rBool(req.FallbackFromAIRR),
		LocusField:        rQuote(req.LocusField),
		HeavyValue:        rQuote(req.HeavyValue),
		LightValues:       rVector(req.LightValues),
		CellField:         rQuote(req.CellField),
		FallbackFromVCall: rBool(req.FallbackFromVCall),
	}

	var tmpl *template.Template
	switch req.Op {
	case OpMergeSamples:
		tmpl = mergeTmpl
	case OpFilterProductive:
		tmpl = productiveTmpl
	case OpRemoveMultiHeavy:
		tmpl = multiHeavyTmpl
	case OpRemoveNoHeavy:
		tmpl = noHeavyTmpl
	default:
		return Script{}, fmt.Errorf("unknown op %q", req.Op)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, vals); err != nil {
		return Script{}, fmt.Errorf("render %s: %w", req.Op, err)
	}

	var outputs []string
	if req.Op == OpMergeSamples || req.Mode == "merge" {
		outputs = []string{req.MergedName}
	} else {
		outputs = make([]string, 0, len(req.Files))
		for _, f := range req.Files {
			outputs = append(outputs, req.PerFilePrefix+Stem(f)+".tsv")
		}
	}

	return Script{
		Name:    scriptName,
		Source:  b.String(),
		Argv:    []string{"Rscript", "--vanilla", scriptName},
		Outputs: outputs,
	}, nil
}
