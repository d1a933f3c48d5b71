package domain

import "fmt"

// FixCategory buckets an analyzer fix suggestion.
type FixCategory string

const (
	FixPrompt        FixCategory = "prompt"
	FixTooling       FixCategory = "tooling"
	FixMemory        FixCategory = "memory"
	FixOrchestration FixCategory = "orchestration"
	FixSafety        FixCategory = "safety"
)

// EvidenceLink ties a claim back to a timeline step, optionally with the
// artifact it came from and a quoted snippet.
type EvidenceLink struct {
	StepID      string `json:"step_id"`
	ArtifactKey string `json:"artifact_key,omitempty"`
	Snippet     string `json:"snippet,omitempty"`
}

// ContributingFactor is one ranked secondary cause. Rank 1 is most important.
type ContributingFactor struct {
	Rank          int            `json:"rank"`
	Description   string         `json:"description"`
	EvidenceLinks []EvidenceLink `json:"evidence_links"`
}

// Contradiction records a pair of inconsistent claims found in the trace.
type Contradiction struct {
	ClaimA      string `json:"claim_a"`
	ClaimB      string `json:"claim_b"`
	Description string `json:"description,omitempty"`
}

// FixSuggestion is one actionable, categorized remediation.
type FixSuggestion struct {
	Category      FixCategory    `json:"category"`
	Description   string         `json:"description"`
	EvidenceLinks []EvidenceLink `json:"evidence_links,omitempty"`
}

// VerdictPack is the structured root-cause result for one trace. It is
// produced atomically by the analyzer and stored as a unit with its causal
// graph, never partially written.
type VerdictPack struct {
	RootCause           string               `json:"root_cause"`
	ConfidenceRootCause *float64             `json:"confidence_root_cause,omitempty"`
	ConfidenceFactors   *float64             `json:"confidence_factors,omitempty"`
	EvidenceLinks       []EvidenceLink       `json:"evidence_links"`
	ContributingFactors []ContributingFactor `json:"contributing_factors"`
	Counterfactual      string               `json:"counterfactual,omitempty"`
	Contradictions      []Contradiction      `json:"contradictions,omitempty"`
	FixSuggestions      []FixSuggestion      `json:"fix_suggestions"`
}

// Validate rejects analyzer output missing the required verdict fields.
func (v *VerdictPack) Validate() error {
	if v.RootCause == "" {
		return fmt.Errorf("%w: verdict missing root_cause", ErrAnalyzer)
	}
	if len(v.EvidenceLinks) == 0 {
		return fmt.Errorf("%w: verdict has no evidence links", ErrAnalyzer)
	}
	for i := range v.EvidenceLinks {
		if v.EvidenceLinks[i].StepID == "" {
			return fmt.Errorf("%w: evidence link %d missing step_id", ErrAnalyzer, i)
		}
	}
	for i := range v.FixSuggestions {
		switch v.FixSuggestions[i].Category {
		case FixPrompt, FixTooling, FixMemory, FixOrchestration, FixSafety:
		default:
			return fmt.Errorf("%w: fix suggestion %d has unknown category %q",
				ErrAnalyzer, i, v.FixSuggestions[i].Category)
		}
	}
	return nil
}

// CausalNodeType classifies a node in the causal graph.
type CausalNodeType string

const (
	NodeStep       CausalNodeType = "step"
	NodeAssumption CausalNodeType = "assumption"
	NodeToolOutput CausalNodeType = "tool_output"
	NodeDecision   CausalNodeType = "decision"
)

type CausalNode struct {
	ID       string         `json:"id"`
	Label    string         `json:"label"`
	Type     CausalNodeType `json:"type,omitempty"`
	StepID   string         `json:"step_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CausalEdgeType classifies how one node influences another.
type CausalEdgeType string

const (
	EdgeDependsOn   CausalEdgeType = "depends_on"
	EdgeContradicts CausalEdgeType = "contradicts"
	EdgeLeadsTo     CausalEdgeType = "leads_to"
)

type CausalEdge struct {
	ID     string         `json:"id"`
	Source string         `json:"source"`
	Target string         `json:"target"`
	Type   CausalEdgeType `json:"type,omitempty"`
}

// CausalGraph links trace steps to explain the progression toward failure.
type CausalGraph struct {
	Nodes                 []CausalNode `json:"nodes"`
	Edges                 []CausalEdge `json:"edges"`
	FirstDivergenceNodeID string       `json:"first_divergence_node_id,omitempty"`
}

// EmptyCausalGraph is the read-side default before analysis completes.
func EmptyCausalGraph() CausalGraph {
	return CausalGraph{Nodes: []CausalNode{}, Edges: []CausalEdge{}}
}

// Validate rejects graphs missing the required node/edge fields.
func (g *CausalGraph) Validate() error {
	if g.Nodes == nil || g.Edges == nil {
		return fmt.Errorf("%w: causal graph missing nodes or edges", ErrAnalyzer)
	}
	for i := range g.Nodes {
		if g.Nodes[i].ID == "" || g.Nodes[i].Label == "" {
			return fmt.Errorf("%w: causal node %d missing id or label", ErrAnalyzer, i)
		}
	}
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.ID == "" || e.Source == "" || e.Target == "" {
			return fmt.Errorf("%w: causal edge %d missing id, source, or target", ErrAnalyzer, i)
		}
	}
	return nil
}

// AnalysisResult is the analyzer collaborator's atomic output.
type AnalysisResult struct {
	Verdict     VerdictPack `json:"verdict"`
	CausalGraph CausalGraph `json:"causal_graph"`
}

func (r *AnalysisResult) Validate() error {
	if err := r.Verdict.Validate(); err != nil {
		return err
	}
	return r.CausalGraph.Validate()
}
