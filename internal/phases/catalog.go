// Package phases models the five-phase curriculum and the staff-gated state
// machine that moves a student through it.
package phases

import "eic-pathway/internal/users"

type TaskKind string

const (
	KindVideo      TaskKind = "video"
	KindExercise   TaskKind = "exercise"
	KindAssignment TaskKind = "assignment"
	KindPeerReview TaskKind = "peer_review"
	KindResearch   TaskKind = "research"
	KindExperiment TaskKind = "experiment"
	KindSubmission TaskKind = "submission"
	KindQuiz       TaskKind = "quiz"
)

type EvidenceKind string

const (
	EvidenceNone EvidenceKind = "none"
	EvidenceText EvidenceKind = "text"
	EvidenceFile EvidenceKind = "file"
	EvidenceURL  EvidenceKind = "url"
	EvidenceQuiz EvidenceKind = "quiz"
)

type Task struct {
	ID       string       `json:"id"`
	Order    int          `json:"order"`
	Kind     TaskKind     `json:"kind"`
	Title    string       `json:"title"`
	XP       int          `json:"xp"`
	Evidence EvidenceKind `json:"evidence"`
	// PassingScore is the percentage a quiz needs; zero for non-quiz tasks.
	PassingScore int `json:"passingScore,omitempty"`
}

// TaskStatus is what the content layer reports for one task.
type TaskStatus struct {
	Completed bool `json:"completed"`
	Score     int  `json:"score,omitempty"`
}

// Done reports whether status satisfies t. Quizzes also need a passing score.
func (t Task) Done(status TaskStatus) bool {
	if !status.Completed {
		return false
	}
	return t.PassingScore == 0 || status.Score >= t.PassingScore
}

type UnlockRule struct {
	Kind     string `json:"kind"`
	CodeHint string `json:"codeHint"`
}

type PhaseDefinition struct {
	Number int        `json:"number"`
	Slug   string     `json:"slug"`
	Title  string     `json:"title"`
	Goal   string     `json:"goal"`
	Unlock UnlockRule `json:"unlock"`
	Tasks  []Task     `json:"tasks"`
}

func (p PhaseDefinition) TotalXP() int {
	total := 0
	for _, t := range p.Tasks {
		total += t.XP
	}
	return total
}

func (p PhaseDefinition) EarnedXP(statuses map[string]TaskStatus) int {
	earned := 0
	for _, t := range p.Tasks {
		if t.Done(statuses[t.ID]) {
			earned += t.XP
		}
	}
	return earned
}

// RequirementsMet reports whether every task in the phase is done.
func (p PhaseDefinition) RequirementsMet(statuses map[string]TaskStatus) bool {
	for _, t := range p.Tasks {
		if !t.Done(statuses[t.ID]) {
			return false
		}
	}
	return true
}

type Catalog []PhaseDefinition

func (c Catalog) Lookup(number int) (PhaseDefinition, bool) {
	for _, p := range c {
		if p.Number == number {
			return p, true
		}
	}
	return PhaseDefinition{}, false
}

const codeGate = "code_gate"

// DefaultCatalog is the EIC pathway: ideation, validation, build, EIC deep
// dive, then launch and pitch.
func DefaultCatalog() Catalog {
	return Catalog{
		{
			Number: 1,
			Slug:   "phase-1-ideation",
			Title:  "Phase 1: Ideation",
			Goal:   "Identify a real problem, understand the audience, and articulate a clear concept one-pager.",
			Unlock: UnlockRule{Kind: codeGate, CodeHint: "Stop by the EIC desk after your one-pager is approved to receive your unlock code."},
			Tasks: []Task{
				{ID: "p1-t1-problem-video", Order: 1, Kind: KindVideo, Title: "Finding a Problem Worth Solving", XP: 50, Evidence: EvidenceText},
				{ID: "p1-t2-problem-statement", Order: 2, Kind: KindExercise, Title: "Problem Statement Worksheet", XP: 80, Evidence: EvidenceFile},
				{ID: "p1-t3-empathy-map", Order: 3, Kind: KindExercise, Title: "Empathy Map: Know Your User", XP: 100, Evidence: EvidenceFile},
				{ID: "p1-t4-competitor-scan", Order: 4, Kind: KindResearch, Title: "30-Minute Competitor Scan", XP: 90, Evidence: EvidenceFile},
				{ID: "p1-t5-peer-feedback", Order: 5, Kind: KindPeerReview, Title: "Peer Feedback Round", XP: 60, Evidence: EvidenceURL},
				{ID: "p1-t6-concepts-quiz", Order: 6, Kind: KindQuiz, Title: "Micro-Quiz: Problem vs Solution Thinking", XP: 50, Evidence: EvidenceQuiz, PassingScore: 70},
				{ID: "p1-t7-onepager", Order: 7, Kind: KindSubmission, Title: "Submit Your One-Page Concept Summary", XP: 150, Evidence: EvidenceFile},
			},
		},
		{
			Number: 2,
			Slug:   "phase-2-validation",
			Title:  "Phase 2: Validation",
			Goal:   "Gather evidence that your problem and audience are real and your direction is promising.",
			Unlock: UnlockRule{Kind: codeGate, CodeHint: "Bring your approved Validation Report to the EIC desk to receive the unlock code for Phase 3."},
			Tasks: []Task{
				{ID: "p2-t1-validation-video", Order: 1, Kind: KindVideo, Title: "What is Validation? (Evidence over Opinions)", XP: 50, Evidence: EvidenceText},
				{ID: "p2-t2-riskiest-assumption", Order: 2, Kind: KindExercise, Title: "Riskiest Assumption & Hypothesis", XP: 90, Evidence: EvidenceFile},
				{ID: "p2-t3-interview-script", Order: 3, Kind: KindAssignment, Title: "Problem Interview Plan", XP: 120, Evidence: EvidenceFile},
				{ID: "p2-t4-synthesis", Order: 4, Kind: KindExercise, Title: "Interview Synthesis: Insights & Patterns", XP: 100, Evidence: EvidenceFile},
				{ID: "p2-t5-experiment", Order: 5, Kind: KindExperiment, Title: "Lightweight Experiment", XP: 120, Evidence: EvidenceURL},
				{ID: "p2-t6-micro-quiz", Order: 6, Kind: KindQuiz, Title: "Micro-Quiz: Interviews, Metrics, and Bias", XP: 50, Evidence: EvidenceQuiz, PassingScore: 70},
				{ID: "p2-t7-validation-report", Order: 7, Kind: KindSubmission, Title: "Submit Validation Report", XP: 150, Evidence: EvidenceFile},
			},
		},
		{
			Number: 3,
			Slug:   "phase-3-build",
			Title:  "Phase 3: Build",
			Goal:   "Ship a minimal, working MVP that proves a user can accomplish the core task.",
			Unlock: UnlockRule{Kind: codeGate, CodeHint: "Bring your approved MVP demo link to the EIC desk to receive the unlock code for Phase 4."},
			Tasks: []Task{
				{ID: "p3-t1-mvp-scope", Order: 1, Kind: KindExercise, Title: "Define MVP Scope & Acceptance Criteria", XP: 90, Evidence: EvidenceFile},
				{ID: "p3-t2-design-flow", Order: 2, Kind: KindExercise, Title: "Core Flow Wireframes & Data Model Sketch", XP: 110, Evidence: EvidenceFile},
				{ID: "p3-t3-tech-plan", Order: 3, Kind: KindAssignment, Title: "Tech Plan: Stack, Risks, and Work Board", XP: 90, Evidence: EvidenceURL},
				{ID: "p3-t4-build-v0", Order: 4, Kind: KindAssignment, Title: "Ship V0 of the MVP", XP: 150, Evidence: EvidenceURL},
				{ID: "p3-t5-user-tests", Order: 5, Kind: KindExperiment, Title: "Run 3 Usability Tests", XP: 120, Evidence: EvidenceFile},
				{ID: "p3-t6-iterate-v1", Order: 6, Kind: KindExercise, Title: "Iterate to V1", XP: 110, Evidence: EvidenceFile},
				{ID: "p3-t7-demo", Order: 7, Kind: KindSubmission, Title: "Submit MVP Demo", XP: 160, Evidence: EvidenceURL},
			},
		},
		{
			Number: 4,
			Slug:   "phase-4-eic-deep-dive",
			Title:  "Phase 4: EIC Deep Dive",
			Goal:   "Map how the EIC can accelerate your idea through people, programs, spaces, and events.",
			Unlock: UnlockRule{Kind: codeGate, CodeHint: "Bring your approved Deep Dive Report to the EIC desk to receive the unlock code for Phase 5."},
			Tasks: []Task{
				{ID: "p4-t1-eic-intro-video", Order: 1, Kind: KindVideo, Title: "Welcome to the Entrepreneurship Innovation Center", XP: 50, Evidence: EvidenceText},
				{ID: "p4-t2-resource-map", Order: 2, Kind: KindResearch, Title: "EIC Website Exploration & Resource Map", XP: 110, Evidence: EvidenceFile},
				{ID: "p4-t3-staff-eir-spotlight", Order: 3, Kind: KindAssignment, Title: "Staff & EiR Spotlight", XP: 90, Evidence: EvidenceFile},
				{ID: "p4-t4-program-match", Order: 4, Kind: KindExercise, Title: "Program Match & Action Plan", XP: 100, Evidence: EvidenceFile},
				{ID: "p4-t5-event-engagement", Order: 5, Kind: KindAssignment, Title: "Attend an EIC Event", XP: 110, Evidence: EvidenceFile},
				{ID: "p4-t6-inperson-visit", Order: 6, Kind: KindExercise, Title: "Visit the EIC", XP: 90, Evidence: EvidenceFile},
				{ID: "p4-t7-deep-dive-report", Order: 7, Kind: KindSubmission, Title: "Submit EIC Deep Dive Report", XP: 150, Evidence: EvidenceFile},
			},
		},
		{
			Number: users.LastPhase,
			Slug:   "phase-5-launch-pitch",
			Title:  "Phase 5: Launch & Pitch",
			Goal:   "Package a credible launch plan and deliver a concise pitch supported by evidence.",
			Unlock: UnlockRule{Kind: codeGate, CodeHint: "Bring your approved Launch Packet to the EIC desk to receive your completion code."},
			Tasks: []Task{
				{ID: "p5-t1-positioning-icp", Order: 1, Kind: KindExercise, Title: "Positioning Statement & ICP", XP: 100, Evidence: EvidenceFile},
				{ID: "p5-t2-gtm-plan", Order: 2, Kind: KindAssignment, Title: "Go-to-Market Plan: Channels & Funnel Targets", XP: 120, Evidence: EvidenceFile},
				{ID: "p5-t3-pricing-unit-econ", Order: 3, Kind: KindExercise, Title: "Pricing & Unit Economics", XP: 110, Evidence: EvidenceFile},
				{ID: "p5-t4-launch-sprint", Order: 4, Kind: KindExperiment, Title: "Launch Sprint", XP: 140, Evidence: EvidenceURL},
				{ID: "p5-t5-pitch-deck", Order: 5, Kind: KindAssignment, Title: "Pitch Deck Draft", XP: 140, Evidence: EvidenceFile},
				{ID: "p5-t6-pitch-practice", Order: 6, Kind: KindPeerReview, Title: "2-Minute Pitch Practice", XP: 100, Evidence: EvidenceFile},
				{ID: "p5-t7-launch-packet", Order: 7, Kind: KindSubmission, Title: "Submit Launch Packet", XP: 160, Evidence: EvidenceFile},
			},
		},
	}
}
