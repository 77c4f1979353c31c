package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bobchad/internal/executor"
	"bobchad/internal/logging"
	"bobchad/internal/plan"
	"bobchad/internal/tickets"
	"bobchad/internal/tools"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// generator is one model round trip.
type generator interface {
	generate(ctx context.Context, system, prompt, mimeType string) (string, error)
}

type genaiGenerator struct {
	client *genai.Client
	model  string
}

func (g *genaiGenerator) generate(ctx context.Context, system, prompt, mimeType string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  mimeType,
		Temperature:       genai.Ptr[float32](0),
	})
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	return resp.Text(), nil
}

// Gemini drafts plans and rewrites definitions with a Gemini model.
type Gemini struct {
	gen     generator
	model   string
	timeout time.Duration
	specs   []tools.Spec
}

// NewGemini creates a Gemini-backed planner.
func NewGemini(ctx context.Context, apiKey, model string, timeout time.Duration, specs []tools.Spec) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("GenAI API key is required (planner.api_key or GEMINI_API_KEY)")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newGemini(&genaiGenerator{client: client, model: model}, model, timeout, specs), nil
}

func newGemini(gen generator, model string, timeout time.Duration, specs []tools.Spec) *Gemini {
	return &Gemini{gen: gen, model: model, timeout: timeout, specs: specs}
}

// Name implements Planner.
func (g *Gemini) Name() string { return "gemini:" + g.model }

// PlanTicket implements Planner.
func (g *Gemini) PlanTicket(ctx context.Context, t *tickets.Ticket, advisory []string) (*plan.Plan, error) {
	var b strings.Builder
	b.WriteString(catalog(g.specs))
	b.WriteString(advisoryBlock(advisory))
	b.WriteString("Resolve this ticket with one plan. Change only the listed paths.\n")
	b.WriteString(mustJSON(ticketView(t)))
	return g.draft(ctx, b.String(), t.ID)
}

// Repair implements Planner.
func (g *Gemini) Repair(ctx context.Context, req RepairRequest) (*plan.Plan, error) {
	var b strings.Builder
	b.WriteString(catalog(g.specs))
	b.WriteString(advisoryBlock(req.Advisory))
	fmt.Fprintf(&b, "Attempt %d for this ticket failed.\n", req.Attempt)
	b.WriteString(mustJSON(ticketView(req.Ticket)))
	b.WriteString("\nFailed plan:\n")
	b.WriteString(mustJSON(req.Previous))
	if req.Failure != nil {
		b.WriteString("\nFailure:\n")
		b.WriteString(mustJSON(req.Failure))
	}
	if req.Narrowed != nil {
		b.WriteString("\nNarrowed scope to work within:\n")
		b.WriteString(mustJSON(req.Narrowed))
	} else {
		b.WriteString("\nThe failed plan had external effects and must not be repeated. Propose a different plan.\n")
	}
	b.WriteString("\nReply with a narrower corrective plan: fewer files, more specific instructions.\n")
	return g.draft(ctx, b.String(), req.Ticket.ID)
}

// Rewrite implements executor.Rewriter.
func (g *Gemini) Rewrite(ctx context.Context, req executor.RewriteRequest) (string, error) {
	prompt := fmt.Sprintf("File: %s\nDefinition: %s\nInstructions: %s\nCurrent source:\n%s\n",
		req.Path, req.Symbol, req.Instructions, req.Current)
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	timer := logging.StartTimer(logging.CategoryPlanner, "Rewrite "+req.Symbol)
	defer timer.Stop()
	out, err := g.gen.generate(ctx, rewriteContract, prompt, "text/plain")
	if err != nil {
		return "", err
	}
	out = stripCodeFences(out)
	if out == "" {
		return "", errors.New("model returned an empty definition")
	}
	return out + "\n", nil
}

func (g *Gemini) draft(ctx context.Context, prompt, ticketID string) (*plan.Plan, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	timer := logging.StartTimer(logging.CategoryPlanner, "Draft "+ticketID)
	defer timer.Stop()
	out, err := g.gen.generate(ctx, planContract, prompt, "application/json")
	if err != nil {
		return nil, err
	}
	logging.PlannerDebug("draft for %s: %s", ticketID, out)

	p, err := plan.Decode([]byte(stripCodeFences(out)))
	if err != nil {
		return nil, fmt.Errorf("model reply is not a plan: %w", err)
	}
	if p.ProvenanceID == "" {
		p.ProvenanceID = uuid.NewString()
	}
	p.TicketID = ticketID
	return p, nil
}

func (g *Gemini) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

type ticketSummary struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Area        string   `json:"area"`
	Priority    string   `json:"priority"`
	Paths       []string `json:"paths"`
	Description string   `json:"description,omitempty"`
	Evidence    []string `json:"evidence,omitempty"`
	LastError   string   `json:"last_error,omitempty"`
}

func ticketView(t *tickets.Ticket) ticketSummary {
	return ticketSummary{
		ID:          t.ID,
		Title:       t.Title,
		Area:        t.Area,
		Priority:    string(t.Priority),
		Paths:       t.Paths,
		Description: t.Description,
		Evidence:    t.Evidence,
		LastError:   t.LastError,
	}
}
