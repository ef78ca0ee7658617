package mcp

import "time"

// SubtreeInput names one soma child to expand.
type SubtreeInput struct {
	Section   string  `json:"section" jsonschema:"Section name such as apic[0] or dend[2]; apical roots must come first"`
	Furcation float64 `json:"furcation" jsonschema:"Fraction of the equivalent cable kept as trunk, in (0,1)"`
	Branches  int     `json:"branches" jsonschema:"Number of identical branches, at least 1"`
}

// ExpandInput defines the input for the cablex_expand tool.
type ExpandInput struct {
	InputPath     string         `json:"input_path" jsonschema:"Cell document to read (inside the workspace or ~/.cablex)"`
	OutputPath    string         `json:"output_path,omitempty" jsonschema:"Where to write the expanded cell; omit to only report"`
	Subtrees      []SubtreeInput `json:"subtrees,omitempty" jsonschema:"Expansion plan; defaults to the configured plan"`
	Frequency     *float64       `json:"frequency,omitempty" jsonschema:"Frequency in Hz at which transfer impedances are matched"`
	TotalSegments *float64       `json:"total_segments,omitempty" jsonschema:"-1 for the lambda rule, a fraction in (0,1), or an integer total"`
	Seed          *uint64        `json:"seed,omitempty" jsonschema:"Seed for branch synapse distribution"`
	Compress      bool           `json:"compress,omitempty" jsonschema:"Write the gzip format with a checksum header"`
	Report        bool           `json:"report,omitempty" jsonschema:"Include the segment map in the result"`
}

// ExpandOutput defines the output for the cablex_expand tool.
type ExpandOutput struct {
	RunID       string   `json:"run_id,omitempty" jsonschema:"Ledger ID of this run"`
	OutputPath  string   `json:"output_path,omitempty" jsonschema:"Path of the written cell"`
	NewSections []string `json:"new_sections" jsonschema:"Names of the sections created"`
	SynapsesIn  int      `json:"synapses_in"`
	SynapsesOut int      `json:"synapses_out"`
	Merged      int      `json:"merged" jsonschema:"Synapses folded into an equivalent point process"`
	Clamped     int      `json:"clamped" jsonschema:"Placements beyond the distal end of a branch"`
	Warnings    int      `json:"warnings"`
	Report      []string `json:"report,omitempty" jsonschema:"Segment map lines: original -> new segments"`
	Message     string   `json:"message" jsonschema:"Human-readable summary"`
}

// InspectInput defines the input for the cablex_inspect tool.
type InspectInput struct {
	InputPath string `json:"input_path" jsonschema:"Cell document to read"`
	Format    string `json:"format,omitempty" jsonschema:"dot, json or html (default json)"`
}

// InspectOutput defines the output for the cablex_inspect tool.
type InspectOutput struct {
	Format       string `json:"format"`
	Graph        any    `json:"graph" jsonschema:"DOT or HTML text, or the JSON section tree"`
	SectionCount int    `json:"section_count"`
	SegmentCount int    `json:"segment_count"`
	SynapseCount int    `json:"synapse_count"`
}

// RunsInput defines the input for the cablex_runs tool.
type RunsInput struct {
	ID    string `json:"id,omitempty" jsonschema:"Return one run with its segment map and synapse moves"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of runs to list (default 20)"`
}

// RunSummary is one ledger entry without details.
type RunSummary struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Cell        string    `json:"cell"`
	InputPath   string    `json:"input_path,omitempty"`
	OutputPath  string    `json:"output_path,omitempty"`
	Subtrees    int       `json:"subtrees"`
	SynapsesIn  int       `json:"synapses_in"`
	SynapsesOut int       `json:"synapses_out"`
	Warnings    int       `json:"warnings"`
}

// RunsOutput defines the output for the cablex_runs tool.
type RunsOutput struct {
	Runs  []RunSummary `json:"runs,omitempty"`
	Run   any          `json:"run,omitempty" jsonschema:"Full run when id is given"`
	Count int          `json:"count"`
}
