// Package memory gives conversations long-range recall. Facts are small
// key/value assertions extracted from Q&A turns, scored for relevance
// before each answer, and periodically consolidated: duplicates merge,
// stale facts decay, and the lowest-value facts are pruned once a
// conversation accumulates more than it can usefully carry.
package memory

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/vidscribe-backend/internal/data/repos"
	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/llm"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

const (
	// defaultSelectLimit is how many facts a turn injects when the caller
	// does not say otherwise.
	defaultSelectLimit = 15

	// maxFactsPerConversation triggers pruning; identity facts never count
	// as prune candidates.
	maxFactsPerConversation = 50

	decayWindow     = 7 * 24 * time.Hour
	decayStep       = 0.1
	importanceFloor = 0.3

	// valueSimilarityThreshold is the Jaccard word-overlap bar above which
	// two fact values are considered the same assertion.
	valueSimilarityThreshold = 0.85
)

// ConsolidationReport summarizes one consolidation pass. With DryRun set
// the counts describe what would have happened; nothing was written.
type ConsolidationReport struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Merged         int       `json:"merged"`
	Decayed        int       `json:"decayed"`
	Pruned         int       `json:"pruned"`
	DryRun         bool      `json:"dry_run,omitempty"`
}

type Service interface {
	// Extract pulls new facts out of a finished Q&A exchange and persists
	// them. Model failures degrade to no facts, never to an error.
	Extract(dbc dbctx.Context, conv *types.Conversation, question, answer string) ([]*types.ConversationFact, error)

	// Select returns the highest-scoring facts for the conversation and
	// marks them accessed.
	Select(dbc dbctx.Context, conversationID uuid.UUID, limit int) ([]*types.ConversationFact, error)

	// Consolidate runs dedup, decay, and prune over one conversation.
	Consolidate(dbc dbctx.Context, conversationID uuid.UUID, dryRun bool) (*ConsolidationReport, error)

	// ConsolidateIdle consolidates every conversation idle for at least
	// idleFor and reports how many were processed.
	ConsolidateIdle(dbc dbctx.Context, idleFor time.Duration) (int, error)
}

type service struct {
	log           *logger.Logger
	llm           llm.Client
	facts         repos.ConversationFactRepo
	conversations repos.ConversationRepo
}

func New(baseLog *logger.Logger, client llm.Client, facts repos.ConversationFactRepo, conversations repos.ConversationRepo) Service {
	return &service{
		log:           baseLog.With("service", "MemoryService"),
		llm:           client,
		facts:         facts,
		conversations: conversations,
	}
}

const extractSystemPrompt = `You are a fact extraction assistant. From one Q&A exchange, extract small durable facts worth remembering across the conversation: who the user is, what they are working toward, preferences they state, and topics under discussion.
Each fact has a short snake_case key and a concise value.
Respond with a strict JSON array only, no prose:
[{"key": "user_goal", "value": "pass the networking exam"}]
Return [] when nothing is worth remembering.`

type extractedFact struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *service) Extract(dbc dbctx.Context, conv *types.Conversation, question, answer string) ([]*types.ConversationFact, error) {
	if s.llm == nil || conv == nil {
		return nil, nil
	}

	temperature := 0.0
	resp, err := llm.CompleteText(dbc.Ctx, s.llm, extractSystemPrompt, buildExtractPrompt(question, answer), llm.Options{
		MaxTokens:   500,
		Temperature: &temperature,
	})
	if err != nil {
		s.log.Warn("fact extraction call failed", "conversation_id", conv.ID, "error", err)
		return nil, nil
	}
	var raw []extractedFact
	if err := llm.DecodeJSON(resp, &raw); err != nil {
		s.log.Warn("fact extraction returned unparseable output", "conversation_id", conv.ID, "error", err)
		return nil, nil
	}
	if len(raw) == 0 {
		return nil, nil
	}

	existing, err := s.facts.GetByConversation(dbc, conv.ID)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(existing))
	for _, f := range existing {
		taken[normalizeKey(f.Key)] = true
	}

	turn := (conv.MessageCount + 1) / 2
	var out []*types.ConversationFact
	for _, rf := range raw {
		key := normalizeKey(rf.Key)
		value := strings.TrimSpace(rf.Value)
		if key == "" || value == "" || taken[key] {
			continue
		}
		taken[key] = true
		out = append(out, &types.ConversationFact{
			ConversationID: conv.ID,
			UserID:         conv.UserID,
			Key:            key,
			Value:          value,
			Category:       categorizeKey(key),
			Importance:     0.5,
			Confidence:     1.0,
			SourceTurn:     turn,
		})
	}
	if len(out) == 0 {
		return nil, nil
	}
	if err := s.facts.CreateIgnoreExisting(dbc, out); err != nil {
		return nil, err
	}
	s.log.Info("extracted conversation facts", "conversation_id", conv.ID, "count", len(out))
	return out, nil
}

func buildExtractPrompt(question, answer string) string {
	return fmt.Sprintf("Question: %s\n\nAnswer: %s", clip(question, 1000), clip(answer, 2000))
}

func (s *service) Select(dbc dbctx.Context, conversationID uuid.UUID, limit int) ([]*types.ConversationFact, error) {
	if limit <= 0 {
		limit = defaultSelectLimit
	}
	facts, err := s.facts.GetByConversation(dbc, conversationID)
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return nil, nil
	}

	now := time.Now()
	maxTurn := 0
	for _, f := range facts {
		if f.SourceTurn > maxTurn {
			maxTurn = f.SourceTurn
		}
	}
	scores := make(map[uuid.UUID]float64, len(facts))
	for _, f := range facts {
		scores[f.ID] = compositeScore(f, now, maxTurn)
	}
	sort.SliceStable(facts, func(i, j int) bool { return scores[facts[i].ID] > scores[facts[j].ID] })
	if len(facts) > limit {
		facts = facts[:limit]
	}

	ids := make([]uuid.UUID, len(facts))
	for i, f := range facts {
		ids[i] = f.ID
	}
	if err := s.facts.MarkAccessed(dbc, ids); err != nil {
		s.log.Warn("marking facts accessed failed", "conversation_id", conversationID, "error", err)
	}
	return facts, nil
}

// compositeScore ranks a fact for injection. Weights: importance 0.40,
// recency 0.25, category 0.20, source turn 0.15.
func compositeScore(f *types.ConversationFact, now time.Time, maxTurn int) float64 {
	return 0.40*f.Importance +
		0.25*recencyScore(f, now) +
		0.20*categoryPriority(f.Category) +
		0.15*turnPriority(f.SourceTurn, maxTurn)
}

// recencyScore decays half a percent per hour since the fact was last
// touched, with a small boost per recorded access capped at 0.3.
func recencyScore(f *types.ConversationFact, now time.Time) float64 {
	ref := f.CreatedAt
	if f.LastAccessed != nil {
		ref = *f.LastAccessed
	}
	hours := now.Sub(ref).Hours()
	if hours < 0 {
		hours = 0
	}
	boost := math.Min(0.3, float64(f.AccessCount)*0.05)
	return math.Min(1, math.Pow(0.995, hours)+boost)
}

func categoryPriority(category string) float64 {
	switch category {
	case types.FactCategoryIdentity:
		return 1.0
	case types.FactCategoryTopic:
		return 0.75
	case types.FactCategoryPreference:
		return 0.5
	case types.FactCategorySession:
		return 0.25
	case types.FactCategoryEphemeral:
		return 0.1
	}
	return 0.5
}

// turnPriority favors facts established early (they frame the whole
// conversation) and recent ones over the drifting middle.
func turnPriority(turn, maxTurn int) float64 {
	switch {
	case turn <= 3:
		return 1.0
	case turn <= 10:
		return 0.8
	case turn <= 20:
		return 0.6
	}
	if maxTurn <= 0 {
		return 0.2
	}
	return math.Max(0.2, 1-float64(turn)/float64(maxTurn))
}

// factCategoryOrder is the rendering order for prompt injection, highest
// priority first.
var factCategoryOrder = []string{
	types.FactCategoryIdentity,
	types.FactCategoryTopic,
	types.FactCategoryPreference,
	types.FactCategorySession,
	types.FactCategoryEphemeral,
}

// FormatForPrompt renders facts grouped by category, one category per
// line: [topic] course=CS50(T1), week=3(T4).
func FormatForPrompt(facts []*types.ConversationFact) string {
	if len(facts) == 0 {
		return ""
	}
	byCategory := make(map[string][]*types.ConversationFact)
	for _, f := range facts {
		byCategory[f.Category] = append(byCategory[f.Category], f)
	}

	var lines []string
	emit := func(category string) {
		group := byCategory[category]
		if len(group) == 0 {
			return
		}
		parts := make([]string, len(group))
		for i, f := range group {
			parts[i] = fmt.Sprintf("%s=%s(T%d)", f.Key, f.Value, f.SourceTurn)
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", category, strings.Join(parts, ", ")))
		delete(byCategory, category)
	}
	for _, category := range factCategoryOrder {
		emit(category)
	}
	// Anything with an unexpected category still renders, after the known
	// groups, in stable order.
	rest := make([]string, 0, len(byCategory))
	for category := range byCategory {
		rest = append(rest, category)
	}
	sort.Strings(rest)
	for _, category := range rest {
		emit(category)
	}
	return strings.Join(lines, "\n")
}

func (s *service) Consolidate(dbc dbctx.Context, conversationID uuid.UUID, dryRun bool) (*ConsolidationReport, error) {
	report := &ConsolidationReport{ConversationID: conversationID, DryRun: dryRun}

	facts, err := s.facts.GetByConversation(dbc, conversationID)
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return report, nil
	}

	remaining, merged, err := s.dedupe(dbc, facts, dryRun)
	if err != nil {
		return nil, err
	}
	report.Merged = merged

	now := time.Now()
	for _, f := range remaining {
		if f.Category == types.FactCategoryIdentity {
			continue
		}
		if !staleFact(f, now) || f.Importance <= importanceFloor {
			continue
		}
		report.Decayed++
		if dryRun {
			continue
		}
		next := math.Max(importanceFloor, f.Importance-decayStep)
		if err := s.facts.UpdateFields(dbc, f.ID, map[string]interface{}{"importance": next}); err != nil {
			return nil, err
		}
		f.Importance = next
	}

	pruned, err := s.prune(dbc, remaining, now, dryRun)
	if err != nil {
		return nil, err
	}
	report.Pruned = pruned

	if report.Merged > 0 || report.Decayed > 0 || report.Pruned > 0 {
		s.log.Info("consolidated conversation memory",
			"conversation_id", conversationID,
			"merged", report.Merged,
			"decayed", report.Decayed,
			"pruned", report.Pruned,
			"dry_run", dryRun,
		)
	}
	return report, nil
}

// dedupe merges facts that restate the same assertion under key variants
// (user_name, user_name_2). The keeper is the most important, earliest
// fact; it inherits the group's access history.
func (s *service) dedupe(dbc dbctx.Context, facts []*types.ConversationFact, dryRun bool) ([]*types.ConversationFact, int, error) {
	groups := make(map[string][]*types.ConversationFact)
	order := make([]string, 0)
	for _, f := range facts {
		k := baseKey(f.Key)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], f)
	}

	merged := 0
	deleted := make(map[uuid.UUID]bool)
	for _, k := range order {
		group := groups[k]
		if len(group) < 2 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Importance != group[j].Importance {
				return group[i].Importance > group[j].Importance
			}
			return group[i].SourceTurn < group[j].SourceTurn
		})
		keeper := group[0]

		maxAccess := keeper.AccessCount
		maxLast := keeper.LastAccessed
		var drop []uuid.UUID
		for _, f := range group[1:] {
			if !similarValues(keeper.Value, f.Value) {
				continue
			}
			drop = append(drop, f.ID)
			deleted[f.ID] = true
			if f.AccessCount > maxAccess {
				maxAccess = f.AccessCount
			}
			if f.LastAccessed != nil && (maxLast == nil || f.LastAccessed.After(*maxLast)) {
				maxLast = f.LastAccessed
			}
		}
		if len(drop) == 0 {
			continue
		}
		merged += len(drop)
		if dryRun {
			continue
		}

		updates := map[string]interface{}{}
		if maxAccess != keeper.AccessCount {
			updates["access_count"] = maxAccess
		}
		if maxLast != nil && (keeper.LastAccessed == nil || maxLast.After(*keeper.LastAccessed)) {
			updates["last_accessed"] = *maxLast
		}
		if len(updates) > 0 {
			if err := s.facts.UpdateFields(dbc, keeper.ID, updates); err != nil {
				return nil, 0, err
			}
			keeper.AccessCount = maxAccess
			keeper.LastAccessed = maxLast
		}
		if err := s.facts.DeleteByIDs(dbc, drop); err != nil {
			return nil, 0, err
		}
	}

	remaining := make([]*types.ConversationFact, 0, len(facts))
	for _, f := range facts {
		if !deleted[f.ID] {
			remaining = append(remaining, f)
		}
	}
	return remaining, merged, nil
}

func (s *service) prune(dbc dbctx.Context, facts []*types.ConversationFact, now time.Time, dryRun bool) (int, error) {
	if len(facts) <= maxFactsPerConversation {
		return 0, nil
	}
	over := len(facts) - maxFactsPerConversation

	var candidates []*types.ConversationFact
	for _, f := range facts {
		if f.Category != types.FactCategoryIdentity {
			candidates = append(candidates, f)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return pruneScore(candidates[i], now) < pruneScore(candidates[j], now)
	})
	if over > len(candidates) {
		over = len(candidates)
	}
	if over == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, over)
	for i := 0; i < over; i++ {
		ids[i] = candidates[i].ID
	}
	if !dryRun {
		if err := s.facts.DeleteByIDs(dbc, ids); err != nil {
			return 0, err
		}
	}
	return over, nil
}

// pruneScore values what is worth keeping: importance plus a bonus for
// having been used at all and a larger one for use within the last day.
func pruneScore(f *types.ConversationFact, now time.Time) float64 {
	score := f.Importance
	if f.AccessCount > 0 {
		score += 0.2
	}
	if f.LastAccessed != nil && now.Sub(*f.LastAccessed) <= 24*time.Hour {
		score += 0.3
	}
	return score
}

func staleFact(f *types.ConversationFact, now time.Time) bool {
	cutoff := now.Add(-decayWindow)
	if f.LastAccessed != nil {
		return f.LastAccessed.Before(cutoff)
	}
	return f.CreatedAt.Before(cutoff)
}

func (s *service) ConsolidateIdle(dbc dbctx.Context, idleFor time.Duration) (int, error) {
	cutoff := time.Now().Add(-idleFor)
	idle, err := s.conversations.ListIdleSince(dbc, cutoff, 100)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, conv := range idle {
		if err := dbc.Ctx.Err(); err != nil {
			return processed, err
		}
		if _, err := s.Consolidate(dbc, conv.ID, false); err != nil {
			s.log.Warn("idle consolidation failed", "conversation_id", conv.ID, "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

// normalizeKey lowercases and snake_cases a model-proposed key.
func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

// baseKey collapses key variants onto their stem so user_name, user_name_2
// and user_name_value group together for dedup.
func baseKey(key string) string {
	k := strings.TrimRight(key, "0123456789")
	k = strings.Trim(k, "_")
	k = strings.TrimSuffix(k, "_name")
	k = strings.TrimSuffix(k, "_value")
	return strings.Trim(k, "_")
}

func similarValues(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return a == b
	}
	if a == b {
		return true
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	return jaccardWords(a, b) >= valueSimilarityThreshold
}

func jaccardWords(a, b string) float64 {
	wa := strings.Fields(a)
	wb := strings.Fields(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(wa))
	for _, w := range wa {
		setA[w] = true
	}
	setB := make(map[string]bool, len(wb))
	for _, w := range wb {
		setB[w] = true
	}
	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func categorizeKey(key string) string {
	switch {
	case containsAny(key, "name", "age", "location", "pronoun", "profession", "occupation"):
		return types.FactCategoryIdentity
	case containsAny(key, "prefer", "favorite", "favourite", "likes", "dislikes"):
		return types.FactCategoryPreference
	case containsAny(key, "session", "current", "today"):
		return types.FactCategorySession
	}
	return types.FactCategoryTopic
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
