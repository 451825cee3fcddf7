package glowly

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// DefaultLearningRate is the default EWMA alpha for learned preferences.
const DefaultLearningRate = 0.3

// maxPreference caps a learned preference weight.
const maxPreference = 2.0

// Preferences maps an enhancement category to a weight. Absent means 1.0.
type Preferences map[EnhancementType]float64

// Weight returns the weight for t, defaulting to 1.
func (p Preferences) Weight(t EnhancementType) float64 {
	if w, ok := p[t]; ok {
		return w
	}
	return 1
}

// FeedbackEvent is a user's reaction to an applied enhancement.
type FeedbackEvent struct {
	Enhancement EnhancementType `json:"enhancement"`

	// Satisfaction is in [0, 1]; 0.5 is neutral.
	Satisfaction float64   `json:"satisfaction"`
	WouldReuse   bool      `json:"would_reuse"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Validate checks the event's fields.
func (e FeedbackEvent) Validate() error {
	if _, err := ParseEnhancementType(string(e.Enhancement)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFeedback, err)
	}
	if math.IsNaN(e.Satisfaction) || e.Satisfaction < 0 || e.Satisfaction > 1 {
		return fmt.Errorf("%w: satisfaction %g outside [0, 1]", ErrInvalidFeedback, e.Satisfaction)
	}
	return nil
}

// signal maps feedback onto the preference scale: neutral satisfaction
// without reuse intent is 1.0, capped at maxPreference.
func (e FeedbackEvent) signal() float64 {
	s := 2 * e.Satisfaction
	if e.WouldReuse {
		s += 0.2
	}
	return math.Max(0, math.Min(maxPreference, s))
}

// Suggestion is a personalized enhancement opportunity.
type Suggestion struct {
	EnhancementOpportunity

	// Weight is stored preference times learned preference.
	Weight float64 `json:"weight"`

	// Score is Confidence times Weight; suggestions are ranked by it.
	Score float64 `json:"score"`
}

// Recommendation is the personalized outcome for one analysis.
type Recommendation struct {
	UserID      string       `json:"user_id"`
	Suggestions []Suggestion `json:"suggestions"`

	// BeautyScore is in [0, 100].
	BeautyScore float64   `json:"beauty_score"`
	Confidence  float64   `json:"confidence"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Recommender personalizes analysis results and learns from feedback.
// Learned state is kept per user and is safe for concurrent use.
type Recommender struct {
	store  PreferenceStore
	sink   AnalyticsSink
	alpha  float64
	logger Logger

	mu      sync.RWMutex
	learned map[string]Preferences
}

// NewRecommender creates a recommender. An alpha outside (0, 1] falls back
// to DefaultLearningRate.
func NewRecommender(store PreferenceStore, sink AnalyticsSink, alpha float64, logger Logger) *Recommender {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultLearningRate
	}
	if store == nil {
		store = memoryPreferences{}
	}
	if sink == nil {
		sink = noopSink{}
	}
	return &Recommender{
		store:   store,
		sink:    sink,
		alpha:   alpha,
		logger:  orNop(logger),
		learned: make(map[string]Preferences),
	}
}

// Recommend re-weights the result's opportunities for userID and ranks
// them by weighted score, descending. Equal scores keep the result's order.
// A failing preference store degrades to default weights.
func (r *Recommender) Recommend(ctx context.Context, userID string, res *AnalysisResult) (Recommendation, error) {
	if res == nil {
		return Recommendation{}, fmt.Errorf("glowly: nil analysis result")
	}

	stored, err := r.store.Preferences(ctx, userID)
	if err != nil {
		if ctx.Err() != nil {
			return Recommendation{}, ctx.Err()
		}
		r.logger.Warn("preference store unavailable, using defaults", "user", userID, "error", err)
		stored = Preferences{}
	}
	learned := r.LearnedPreferences(userID)

	suggestions := make([]Suggestion, len(res.Opportunities))
	for i, op := range res.Opportunities {
		w := stored.Weight(op.Type) * learned.Weight(op.Type)
		suggestions[i] = Suggestion{
			EnhancementOpportunity: op,
			Weight:                 w,
			Score:                  op.Confidence * w,
		}
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})

	return Recommendation{
		UserID:      userID,
		Suggestions: suggestions,
		BeautyScore: beautyScore(res.Faces),
		Confidence:  res.OverallConfidence,
		GeneratedAt: time.Now(),
	}, nil
}

// beautyScore blends mean face quality with the model score, when present,
// on a 0-100 scale.
func beautyScore(faces []FaceObservation) float64 {
	if len(faces) == 0 {
		return 0
	}
	var quality, model float64
	var scored int
	for _, f := range faces {
		quality += f.Quality.Overall
		if f.BeautyScore != nil {
			model += *f.BeautyScore
			scored++
		}
	}
	score := quality / float64(len(faces))
	if scored > 0 {
		score = 0.5*score + 0.5*model/float64(scored)
	}
	return math.Round(clamp01(score)*1000) / 10
}

// RecordFeedback folds ev into userID's learned preference for the
// enhancement, persists it through the store and emits an analytics event.
// The learned weight is updated even if the store fails.
func (r *Recommender) RecordFeedback(ctx context.Context, userID string, ev FeedbackEvent) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidFeedback)
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = time.Now()
	}

	r.mu.Lock()
	prefs, ok := r.learned[userID]
	if !ok {
		prefs = Preferences{}
		r.learned[userID] = prefs
	}
	w := prefs.Weight(ev.Enhancement)
	w += r.alpha * (ev.signal() - w)
	prefs[ev.Enhancement] = w
	r.mu.Unlock()

	r.sink.RecordEvent("enhancement_feedback", map[string]any{
		"user_id":      userID,
		"enhancement":  string(ev.Enhancement),
		"satisfaction": ev.Satisfaction,
		"would_reuse":  ev.WouldReuse,
		"weight":       w,
	})

	if err := r.store.RecordFeedback(ctx, userID, ev); err != nil {
		return fmt.Errorf("persisting feedback: %w", err)
	}
	return nil
}

// LearnedPreferences returns a copy of userID's learned weights.
func (r *Recommender) LearnedPreferences(userID string) Preferences {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(Preferences, len(r.learned[userID]))
	for k, v := range r.learned[userID] {
		out[k] = v
	}
	return out
}
