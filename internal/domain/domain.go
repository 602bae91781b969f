package domain

// Phase is the lifecycle stage of an Idea.
type Phase string

const (
	PhaseQueued     Phase = "queued"
	PhaseAnalyzing  Phase = "analyzing"
	PhaseGenerating Phase = "generating"
	PhaseNeedsInput Phase = "needs_input"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Active reports whether the phase occupies a worker slot.
func (p Phase) Active() bool {
	return p == PhaseAnalyzing || p == PhaseGenerating
}

type Idea struct {
	ID          string            `json:"id"`
	ProjectID   string            `json:"project_id"`
	Content     string            `json:"content"`
	UserID      string            `json:"user_id,omitempty"`
	Source      string            `json:"source"`
	SubmittedAt string            `json:"submitted_at" format:"date-time"`
	Priority    int               `json:"priority"`
	Context     map[string]string `json:"context,omitempty"`
	Seq         int64             `json:"-"`
}

// ProjectSummary describes what generation produced for an Idea.
type ProjectSummary struct {
	Name         string   `json:"name"`
	FilesCreated []string `json:"files_created"`
}

type IdeaStatus struct {
	ID        string          `json:"id"`
	Phase     Phase           `json:"phase" enum:"queued,analyzing,generating,needs_input,completed,failed"`
	Progress  float64         `json:"progress" minimum:"0" maximum:"1"`
	Project   *ProjectSummary `json:"project"`
	Error     *string         `json:"error"`
	Missing   []string        `json:"missing_inputs,omitempty"`
	UpdatedAt string          `json:"updated_at,omitempty" format:"date-time"`
}

// Clone returns a deep copy safe to hand to readers.
func (s IdeaStatus) Clone() IdeaStatus {
	out := s
	if s.Project != nil {
		p := *s.Project
		p.FilesCreated = append([]string(nil), s.Project.FilesCreated...)
		out.Project = &p
	}
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	out.Missing = append([]string(nil), s.Missing...)
	return out
}

type Mode string

const (
	ModeInfo   Mode = "info"
	ModeAction Mode = "action"
)

type Method string

const (
	MethodDeterministic Method = "deterministic"
	MethodLLM           Method = "llm"
	MethodFallback      Method = "fallback"
)

// DomainUnresolved is the sentinel domain for utterances no domain claimed.
const DomainUnresolved = "unresolved"

type RoutingResult struct {
	Domain     string  `json:"domain"`
	Mode       Mode    `json:"mode" enum:"info,action"`
	Confidence float64 `json:"confidence"`
	Method     Method  `json:"method" enum:"deterministic,llm,fallback"`
}

type CostLedgerEntry struct {
	ProjectID string  `json:"project_id"`
	Cost      float64 `json:"cost"`
	Tokens    int     `json:"tokens"`
	Timestamp string  `json:"timestamp" format:"date-time"`
}

type DailyBudget struct {
	ProjectID      string  `json:"project_id"`
	Day            string  `json:"day"`
	TotalCost      float64 `json:"total_cost"`
	Limit          float64 `json:"limit"`
	CallCount      int     `json:"call_count"`
	Remaining      float64 `json:"remaining"`
	PercentageUsed float64 `json:"percentage_used"`
	Reserved       float64 `json:"reserved,omitempty"`
}

type CommandResult struct {
	Success          bool           `json:"success"`
	Message          string         `json:"message"`
	NextSteps        []string       `json:"next_steps"`
	Data             map[string]any `json:"data,omitempty"`
	SuggestedActions []string       `json:"suggested_actions,omitempty"`
}

// GatewayItem is a record kept by the synchronous gateway handlers.
type GatewayItem struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Domain    string `json:"domain"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ClientID  string `json:"client_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
