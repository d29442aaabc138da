// Package filter provides the protein accession allow-list used to restrict
// a conversion run to a subset of proteins.
package filter

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"github.com/shenwei356/xopen"

	"github.com/bigbio/quantmsio-go/pkg/core"
)

// ProteinFilter holds an accession allow-list. A nil *ProteinFilter means
// no filtering: Match reports true and Pattern returns "".
type ProteinFilter struct {
	accessions map[string]struct{}
	pattern    string
}

// Load reads a newline-delimited accession list. An empty path yields a nil
// filter; an empty file is a configuration error.
func Load(path string) (*ProteinFilter, error) {
	if path == "" {
		return nil, nil
	}
	r, err := xopen.Ropen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open protein file: %w", err)
	}
	defer r.Close()

	f := &ProteinFilter{accessions: make(map[string]struct{})}
	var quoted []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		acc := strings.TrimSpace(scanner.Text())
		if acc == "" {
			continue
		}
		if _, dup := f.accessions[acc]; dup {
			continue
		}
		f.accessions[acc] = struct{}{}
		quoted = append(quoted, regexp.QuoteMeta(acc))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading protein file: %w", err)
	}
	if len(f.accessions) == 0 {
		return nil, fmt.Errorf("protein file %s contains no accessions", path)
	}
	f.pattern = strings.Join(quoted, "|")
	return f, nil
}

// Pattern returns the allow-list as an alternation pattern ("acc1|acc2|...")
// suitable for source-level pre-filtering.
func (f *ProteinFilter) Pattern() string {
	if f == nil {
		return ""
	}
	return f.pattern
}

// Match reports whether any accession in the (possibly multi-valued) field
// is on the allow-list.
func (f *ProteinFilter) Match(field string) bool {
	if f == nil {
		return true
	}
	for _, acc := range core.SplitAccessions(field) {
		if _, ok := f.accessions[acc]; ok {
			return true
		}
	}
	return false
}

// Size returns the number of accessions on the allow-list.
func (f *ProteinFilter) Size() int {
	if f == nil {
		return 0
	}
	return len(f.accessions)
}
