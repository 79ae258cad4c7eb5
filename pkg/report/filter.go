package report

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/srodi/memwatch/pkg/types"
)

// FilterConfig hides processes from presentation by matching their command.
// The include pattern applies first, then the exclude pattern.
type FilterConfig struct {
	ExcludePattern string `json:"exclude_pattern,omitempty"`
	IncludePattern string `json:"include_pattern,omitempty"`

	exclude *regexp.Regexp
	include *regexp.Regexp
}

// NewFilterConfig compiles the patterns. It returns nil when both are empty.
func NewFilterConfig(include, exclude string) (*FilterConfig, error) {
	if include == "" && exclude == "" {
		return nil, nil
	}
	cfg := &FilterConfig{IncludePattern: include, ExcludePattern: exclude}
	var err error
	if include != "" {
		if cfg.include, err = regexp.Compile(include); err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", include, err)
		}
	}
	if exclude != "" {
		if cfg.exclude, err = regexp.Compile(exclude); err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", exclude, err)
		}
	}
	return cfg, nil
}

func (cfg *FilterConfig) keeps(p types.ProcessRecord) bool {
	if cfg.include != nil && !cfg.include.MatchString(p.Command) {
		return false
	}
	if cfg.exclude != nil && cfg.exclude.MatchString(p.Command) {
		return false
	}
	return true
}

// Describe renders the patterns the way the exports annotate them.
func (cfg *FilterConfig) Describe() string {
	var parts []string
	if cfg.ExcludePattern != "" {
		parts = append(parts, fmt.Sprintf("exclude='%s'", cfg.ExcludePattern))
	}
	if cfg.IncludePattern != "" {
		parts = append(parts, fmt.Sprintf("include='%s'", cfg.IncludePattern))
	}
	return strings.Join(parts, " ")
}

// View is a JobReport prepared for presentation. Filtering only narrows the
// process list; job totals and the timeline always cover every process.
type View struct {
	types.JobReport
	Filter               *FilterConfig `json:"filter,omitempty"`
	FilteredProcessCount *int          `json:"filtered_process_count,omitempty"`
	FilteredTotalRSSKiB  *uint64       `json:"filtered_total_rss_kib,omitempty"`
}

// NewView applies cfg (which may be nil) to r's process list.
func NewView(r types.JobReport, cfg *FilterConfig) View {
	v := View{JobReport: r}
	if cfg == nil {
		return v
	}
	kept := make([]types.ProcessRecord, 0, len(r.Processes))
	var count int
	var rss uint64
	for _, p := range r.Processes {
		if cfg.keeps(p) {
			kept = append(kept, p)
			continue
		}
		count++
		rss += p.MaxRSSKiB
	}
	v.Processes = kept
	v.Filter = cfg
	v.FilteredProcessCount = &count
	v.FilteredTotalRSSKiB = &rss
	return v
}

// visible drops zero-RSS rows, which are mostly zombies and kernel threads.
func visible(procs []types.ProcessRecord) []types.ProcessRecord {
	out := make([]types.ProcessRecord, 0, len(procs))
	for _, p := range procs {
		if p.MaxRSSKiB > 0 {
			out = append(out, p)
		}
	}
	return out
}
