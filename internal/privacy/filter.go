// Package privacy applies relationship-scoped filtering to content and
// context before either crosses to another user's agent. Filters are pure
// functions: what a peer may see depends only on the relationship row.
package privacy

import (
	"regexp"
	"strings"

	"github.com/mjnet/mjnet/pkg/models"
)

// LevelStranger is the filter level applied when no relationship exists.
// It is strictly tighter than any ShareLevel.
const LevelStranger = "stranger"

// Context is the situational information an agent may share about its
// user, before filtering.
type Context struct {
	UserStatus       string   `json:"user_status,omitempty"`
	Mood             string   `json:"mood,omitempty"`
	RecentActivities []string `json:"recent_activities,omitempty"`
	Interests        []string `json:"interests,omitempty"`
	LifeUpdates      []string `json:"life_updates,omitempty"`
	WorkStatus       string   `json:"work_status,omitempty"`
}

// Result is the outcome of one filter application.
type Result struct {
	Content string  // content with restricted topics and PII removed
	Context Context // context reduced to what the tier allows
	Level   string  // filter level actually applied
}

// Apply filters content and context for the given relationship. A nil
// relationship means the peer is a stranger and gets the tightest tier.
func Apply(rel *models.Relationship, content string, ctx Context) Result {
	if rel == nil {
		return strangerFilter(content, ctx)
	}
	switch rel.ShareLevel {
	case models.ShareBasic:
		return basicFilter(content, ctx, rel.RestrictedTopics)
	case models.ShareModerate:
		return moderateFilter(content, ctx, rel.RestrictedTopics)
	case models.ShareFull:
		return fullFilter(content, ctx, rel.RestrictedTopics)
	default:
		return strangerFilter(content, ctx)
	}
}

// strangerFilter shares only presence, a coarse mood and a coarse
// activity category. All PII is redacted from the content.
func strangerFilter(content string, _ Context) Result {
	return Result{
		Content: RedactPersonalDetails(content),
		Context: Context{
			UserStatus: "online",
			Mood:       ExtractMood(content),
			RecentActivities: func() []string {
				if a := ExtractActivityType(content); a != "" {
					return []string{a}
				}
				return nil
			}(),
		},
		Level: LevelStranger,
	}
}

// basicFilter is for acquaintances and colleagues: coarse mood, a few
// generalized activities, interests and work status.
func basicFilter(content string, ctx Context, restricted []string) Result {
	return Result{
		Content: RemoveRestrictedTopics(content, restricted),
		Context: Context{
			UserStatus:       orDefault(ctx.UserStatus, "online"),
			Mood:             ExtractMood(content),
			RecentActivities: filterActivities(ctx.RecentActivities, models.ShareBasic),
			Interests:        ctx.Interests,
			WorkStatus:       ctx.WorkStatus,
		},
		Level: string(models.ShareBasic),
	}
}

// moderateFilter is for friends: detailed mood and life updates, with
// overly personal activities still held back.
func moderateFilter(content string, ctx Context, restricted []string) Result {
	return Result{
		Content: RemoveRestrictedTopics(content, restricted),
		Context: Context{
			UserStatus:       ctx.UserStatus,
			Mood:             ctx.Mood,
			RecentActivities: filterActivities(ctx.RecentActivities, models.ShareModerate),
			Interests:        ctx.Interests,
			LifeUpdates:      ctx.LifeUpdates,
			WorkStatus:       ctx.WorkStatus,
		},
		Level: string(models.ShareModerate),
	}
}

// fullFilter is for family and closest friends: everything passes except
// explicitly restricted topics.
func fullFilter(content string, ctx Context, restricted []string) Result {
	return Result{
		Content: RemoveRestrictedTopics(content, restricted),
		Context: ctx,
		Level:   string(models.ShareFull),
	}
}

// ── Mood and activity extraction ─────────────────────────────

var positiveWords = []string{"happy", "good", "great", "excited", "wonderful"}
var negativeWords = []string{"sad", "bad", "terrible", "angry", "frustrated"}

// ExtractMood reduces content to "positive", "negative" or "neutral".
func ExtractMood(content string) string {
	lower := strings.ToLower(content)
	positive, negative := 0, 0
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			positive++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			negative++
		}
	}
	switch {
	case positive > negative:
		return "positive"
	case negative > positive:
		return "negative"
	default:
		return "neutral"
	}
}

var activityKeywords = map[string][]string{
	"work":     {"working", "office", "meeting", "project", "deadline"},
	"social":   {"friends", "party", "dinner", "hanging out"},
	"leisure":  {"reading", "watching", "playing", "relaxing"},
	"exercise": {"gym", "running", "workout", "sports"},
	"travel":   {"trip", "vacation", "flight", "hotel"},
}

// activityOrder keeps category matching deterministic.
var activityOrder = []string{"work", "social", "leisure", "exercise", "travel"}

// ExtractActivityType maps content to a coarse activity category, or
// "general" when nothing matches.
func ExtractActivityType(content string) string {
	lower := strings.ToLower(content)
	for _, category := range activityOrder {
		for _, kw := range activityKeywords[category] {
			if strings.Contains(lower, kw) {
				return category
			}
		}
	}
	return "general"
}

var personalKeywords = []string{"therapy", "doctor", "medication", "private", "intimate"}

func tooPersonal(activity string) bool {
	lower := strings.ToLower(activity)
	for _, kw := range personalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func filterActivities(activities []string, level models.ShareLevel) []string {
	switch level {
	case models.ShareBasic:
		if len(activities) > 3 {
			activities = activities[:3]
		}
		out := make([]string, 0, len(activities))
		for _, a := range activities {
			out = append(out, ExtractActivityType(a))
		}
		return out
	case models.ShareModerate:
		if len(activities) > 5 {
			activities = activities[:5]
		}
		var out []string
		for _, a := range activities {
			if !tooPersonal(a) {
				out = append(out, a)
			}
		}
		return out
	default:
		return activities
	}
}

// ── Redaction ────────────────────────────────────────────────

var (
	phoneRe   = regexp.MustCompile(`\b\d{3}-\d{3}-\d{4}\b`)
	addressRe = regexp.MustCompile(`\b\d+\s+[\w\s]+\s+(Street|St|Avenue|Ave|Road|Rd)\b`)
	emailRe   = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
)

// RedactPersonalDetails strips phone numbers, street addresses and email
// addresses from content.
func RedactPersonalDetails(content string) string {
	content = phoneRe.ReplaceAllString(content, "[PHONE]")
	content = addressRe.ReplaceAllString(content, "[ADDRESS]")
	content = emailRe.ReplaceAllString(content, "[EMAIL]")
	return content
}

// RemoveRestrictedTopics replaces each mention of a restricted topic with
// a visible filter marker, case-insensitively.
func RemoveRestrictedTopics(content string, topics []string) string {
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(topic))
		if err != nil {
			continue
		}
		content = re.ReplaceAllString(content, "[FILTERED: "+strings.ToUpper(topic)+"]")
	}
	return content
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
