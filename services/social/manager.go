// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package social manages the agent's social media presence. Posts are
// drafted from wellness, creative, and community templates, held in a
// consent queue until the user approves them, and published through
// per-platform clients behind a daily rate cap.
package social

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Platform identifies a social network.
type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformLinkedIn  Platform = "linkedin"
)

// ParsePlatform converts a string tag, rejecting unknown values.
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(s); p {
	case PlatformTwitter, PlatformInstagram, PlatformTikTok, PlatformLinkedIn:
		return p, nil
	}
	return "", fmt.Errorf("unrecognized platform %q", s)
}

// PostStatus tracks a post through the consent and publish pipeline.
type PostStatus string

const (
	StatusPendingApproval PostStatus = "pending_approval"
	StatusScheduled       PostStatus = "scheduled"
	StatusPublished       PostStatus = "published"
	StatusFailed          PostStatus = "failed"
)

// Engagement holds per-post interaction counts.
type Engagement struct {
	Likes    int `json:"likes"`
	Shares   int `json:"shares"`
	Comments int `json:"comments"`
	Reach    int `json:"reach"`
}

// Post is one social media post.
type Post struct {
	PostID        string     `json:"post_id"`
	Platform      Platform   `json:"platform"`
	Content       string     `json:"content"`
	MediaURLs     []string   `json:"media_urls"`
	ScheduledTime time.Time  `json:"scheduled_time"`
	Status        PostStatus `json:"status"`
	Engagement    Engagement `json:"engagement"`
	CreatedAt     time.Time  `json:"created_at"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	ExternalID    string     `json:"external_id,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}

// Poster publishes a post to one platform and returns the platform's
// identifier for it.
type Poster interface {
	Publish(ctx context.Context, post *Post) (externalID string, err error)
	Metrics(ctx context.Context, externalID string) (Engagement, error)
}

// twitterMaxChars is the platform's post length cap.
const twitterMaxChars = 280

// contentTemplates are the post drafts per content source. Placeholders
// use {name} syntax and are filled from the caller's context.
var contentTemplates = map[string][]string{
	"wellness": {
		"🧘 Morning check-in: {metric} looking optimal today. The body knows. #Terracare #Wellness",
		"💚 Just completed {protocol}. HRV improved by {improvement}%. Small steps, sovereign health. #Biohacking",
		"🌅 Today's frequency: {frequency}Hz. Feeling the resonance. #FrequencyHealing #Terracare",
		"📊 Wellness journey update: Day {day}. Consistency compounds. #HealthJourney",
		"🎯 Micro-win: {achievement}. Celebrating the small victories. #WellnessWins",
	},
	"creative": {
		"🎨 Created something new today: {creation_type}. Building in public. #CreateDaily",
		"💡 New project unveiled: {title}. From vision to reality. #BuildInPublic",
		"🚀 Shipping: {project_name}. Another sovereign creation. #IndieMaker",
		"📝 Behind the scenes of {project}. The process is the product. #CreativeProcess",
		"✨ {milestone} reached. Grateful for this journey. #Milestone",
	},
	"community": {
		"🐝 Hive update: {activity}. Collective intelligence in action. #HiveMind",
		"🌱 Growing together: {insight}. The swarm resonates. #CommunityFirst",
		"⚡ New pattern detected: {pattern}. The field organizes. #Emergence",
		"🙏 Grateful for {community_aspect}. This is why we build. #Gratitude",
		"🔮 Sofie's guidance today: {guidance}. Trust the intelligence. #SofieAI",
	},
}

var placeholderPattern = regexp.MustCompile(`\{[a-z_]+\}`)

// Config holds the social manager settings.
type Config struct {
	// Enabled gates the whole manager. Disabled managers draft but
	// never publish.
	Enabled bool
	// RequireConsent routes every scheduled post through the pending
	// approval queue first.
	RequireConsent bool
	// DailyPostLimit caps publishes per platform per day. Defaults
	// to 3.
	DailyPostLimit int
	// SchedulerInterval is how often the publish loop scans for due
	// posts. Defaults to one minute.
	SchedulerInterval time.Duration
	Logger            *slog.Logger
	// Rand overrides template selection, for tests.
	Rand *rand.Rand
}

// Manager drafts, queues, and publishes posts.
type Manager struct {
	cfg Config
	log *slog.Logger

	mu       sync.RWMutex
	posts    map[string]*Post
	posters  map[Platform]Poster
	limiters map[Platform]*rate.Limiter
	rng      *rand.Rand
}

// NewManager builds a social manager. Posters are registered
// separately per platform.
func NewManager(cfg Config) *Manager {
	if cfg.DailyPostLimit <= 0 {
		cfg.DailyPostLimit = 3
	}
	if cfg.SchedulerInterval <= 0 {
		cfg.SchedulerInterval = time.Minute
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Manager{
		cfg:      cfg,
		log:      log,
		posts:    make(map[string]*Post),
		posters:  make(map[Platform]Poster),
		limiters: make(map[Platform]*rate.Limiter),
		rng:      rng,
	}
}

// RegisterPoster attaches a platform client. Platforms without a
// registered poster fail at publish time.
func (m *Manager) RegisterPoster(platform Platform, poster Poster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posters[platform] = poster
	m.log.Info("social platform registered", "platform", platform)
}

func (m *Manager) limiter(platform Platform) *rate.Limiter {
	lim, ok := m.limiters[platform]
	if !ok {
		// Tokens refill evenly across the day, with a burst equal
		// to the daily cap.
		perDay := rate.Limit(float64(m.cfg.DailyPostLimit) / (24 * time.Hour).Seconds())
		lim = rate.NewLimiter(perDay, m.cfg.DailyPostLimit)
		m.limiters[platform] = lim
	}
	return lim
}

// =============================================================================
// Drafting
// =============================================================================

// CreatePost drafts a post from the templates for contentType and
// queues it. With RequireConsent set (or requireApproval true) the post
// waits in the pending approval queue; otherwise it is scheduled
// directly. A zero scheduleTime means now.
func (m *Manager) CreatePost(contentType string, context map[string]string, platform Platform, scheduleTime time.Time, requireApproval bool) *Post {
	templates, ok := contentTemplates[contentType]
	if !ok {
		templates = contentTemplates["wellness"]
	}

	m.mu.Lock()
	template := templates[m.rng.Intn(len(templates))]
	m.mu.Unlock()

	content := fillTemplate(template, context)
	if platform == PlatformTwitter && len([]rune(content)) > twitterMaxChars {
		runes := []rune(content)
		content = string(runes[:twitterMaxChars-3]) + "..."
	}

	status := StatusScheduled
	if requireApproval || m.cfg.RequireConsent {
		status = StatusPendingApproval
	}
	if scheduleTime.IsZero() {
		scheduleTime = time.Now().UTC()
	}

	post := &Post{
		PostID:        "post_" + uuid.NewString(),
		Platform:      platform,
		Content:       content,
		MediaURLs:     []string{},
		ScheduledTime: scheduleTime,
		Status:        status,
		CreatedAt:     time.Now().UTC(),
	}

	m.mu.Lock()
	m.posts[post.PostID] = post
	m.mu.Unlock()

	m.log.Info("post drafted",
		"post_id", post.PostID,
		"platform", platform,
		"status", status,
	)
	return post
}

// fillTemplate substitutes {name} placeholders. A template with any
// placeholder left unfilled is returned verbatim so a partial context
// never produces half-filled copy.
func fillTemplate(template string, context map[string]string) string {
	filled := template
	for key, value := range context {
		filled = strings.ReplaceAll(filled, "{"+key+"}", value)
	}
	if placeholderPattern.MatchString(filled) {
		return template
	}
	return filled
}

// GenerateContent renders post copy from source data without queuing a
// post. Unknown sources draw from the community templates.
func (m *Manager) GenerateContent(source string, data map[string]string) string {
	var context map[string]string
	switch source {
	case "wellness":
		context = map[string]string{
			"metric":      valueOr(data, "metric", "biometrics"),
			"protocol":    valueOr(data, "protocol", "wellness protocol"),
			"improvement": valueOr(data, "improvement", "5"),
			"frequency":   valueOr(data, "frequency", "432"),
			"day":         valueOr(data, "day", "1"),
			"achievement": valueOr(data, "achievement", "completed session"),
		}
	case "creative":
		context = map[string]string{
			"creation_type": valueOr(data, "type", "project"),
			"title":         valueOr(data, "title", "New Work"),
			"project_name":  valueOr(data, "name", "Project"),
			"project":       valueOr(data, "project", "creation"),
			"milestone":     valueOr(data, "milestone", "Milestone"),
		}
	default:
		source = "community"
		context = map[string]string{
			"activity":         valueOr(data, "activity", "swarm activity"),
			"insight":          valueOr(data, "insight", "collective wisdom"),
			"pattern":          valueOr(data, "pattern", "emergent behavior"),
			"community_aspect": valueOr(data, "aspect", "community"),
			"guidance":         valueOr(data, "guidance", "trust the process"),
		}
	}

	m.mu.Lock()
	templates := contentTemplates[source]
	template := templates[m.rng.Intn(len(templates))]
	m.mu.Unlock()
	return fillTemplate(template, context)
}

func valueOr(data map[string]string, key, fallback string) string {
	if v, ok := data[key]; ok && v != "" {
		return v
	}
	return fallback
}

// ScheduleDailyPosts queues the standard three posts: wellness in the
// morning, creative in the afternoon, community in the evening. Slots
// already past roll to tomorrow.
func (m *Manager) ScheduleDailyPosts(wellnessContext, creativeContext map[string]string) {
	now := time.Now().UTC()
	slot := func(hour int) time.Time {
		t := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
		if t.Before(now) {
			t = t.Add(24 * time.Hour)
		}
		return t
	}

	m.CreatePost("wellness", wellnessContext, PlatformTwitter, slot(9), m.cfg.RequireConsent)
	m.CreatePost("creative", creativeContext, PlatformTwitter, slot(14), m.cfg.RequireConsent)
	m.CreatePost("community", map[string]string{"insight": "collective resonance"}, PlatformTwitter, slot(19), m.cfg.RequireConsent)

	m.log.Info("daily posts scheduled")
}

// =============================================================================
// Consent and publishing
// =============================================================================

// ApprovePost moves a pending post into the scheduled queue. Returns
// false when the post is missing or not awaiting approval.
func (m *Manager) ApprovePost(postID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	post, ok := m.posts[postID]
	if !ok || post.Status != StatusPendingApproval {
		return false
	}
	post.Status = StatusScheduled
	m.log.Info("post approved", "post_id", postID)
	return true
}

// PublishPost pushes a scheduled post to its platform. The rate cap is
// not consulted here; callers going through the scheduler get it for
// free, direct publishes are deliberate.
func (m *Manager) PublishPost(ctx context.Context, postID string) error {
	m.mu.Lock()
	post, ok := m.posts[postID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("post not found: %s", postID)
	}
	if post.Status != StatusScheduled {
		m.mu.Unlock()
		return fmt.Errorf("post %s is %s, not scheduled", postID, post.Status)
	}
	poster, configured := m.posters[post.Platform]
	m.mu.Unlock()

	if !configured {
		m.failPost(post, "platform not configured")
		return fmt.Errorf("platform %s not configured", post.Platform)
	}

	externalID, err := poster.Publish(ctx, post)
	if err != nil {
		m.failPost(post, err.Error())
		return fmt.Errorf("publish to %s failed: %w", post.Platform, err)
	}

	now := time.Now().UTC()
	m.mu.Lock()
	post.Status = StatusPublished
	post.PublishedAt = &now
	post.ExternalID = externalID
	m.mu.Unlock()

	m.log.Info("post published",
		"post_id", postID,
		"platform", post.Platform,
		"external_id", externalID,
	)
	return nil
}

func (m *Manager) failPost(post *Post, message string) {
	m.mu.Lock()
	post.Status = StatusFailed
	post.ErrorMessage = message
	m.mu.Unlock()
	m.log.Error("publish failed", "post_id", post.PostID, "error", message)
}

// TrackEngagement refreshes metrics for a published post from its
// platform. Unpublished posts return zero engagement.
func (m *Manager) TrackEngagement(ctx context.Context, postID string) (Engagement, error) {
	m.mu.RLock()
	post, ok := m.posts[postID]
	var poster Poster
	if ok {
		poster = m.posters[post.Platform]
	}
	m.mu.RUnlock()

	if !ok || post.Status != StatusPublished {
		return Engagement{}, nil
	}
	if poster == nil {
		return post.Engagement, nil
	}

	metrics, err := poster.Metrics(ctx, post.ExternalID)
	if err != nil {
		m.log.Error("engagement tracking failed", "post_id", postID, "error", err)
		return post.Engagement, nil
	}

	m.mu.Lock()
	post.Engagement = metrics
	m.mu.Unlock()
	return metrics, nil
}

// Run drives the publish loop until the context is canceled. Due
// scheduled posts are published as each platform's daily rate allows.
func (m *Manager) Run(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.log.Info("social manager disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(m.cfg.SchedulerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("social manager shut down")
			return ctx.Err()
		case <-ticker.C:
			m.publishDue(ctx)
		}
	}
}

// publishDue publishes every scheduled post whose time has come,
// subject to the per-platform daily limiter.
func (m *Manager) publishDue(ctx context.Context) {
	now := time.Now().UTC()

	m.mu.Lock()
	var due []*Post
	for _, post := range m.posts {
		if post.Status == StatusScheduled && !post.ScheduledTime.After(now) {
			due = append(due, post)
		}
	}
	m.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledTime.Before(due[j].ScheduledTime) })

	for _, post := range due {
		m.mu.Lock()
		lim := m.limiter(post.Platform)
		m.mu.Unlock()

		if !lim.Allow() {
			m.log.Warn("daily post limit reached", "platform", post.Platform)
			continue
		}
		if err := m.PublishPost(ctx, post.PostID); err != nil {
			m.log.Error("scheduled publish failed", "post_id", post.PostID, "error", err)
		}
	}
}

// =============================================================================
// Queries
// =============================================================================

// PendingPosts lists posts waiting for user approval.
func (m *Manager) PendingPosts() []*Post {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pending []*Post
	for _, post := range m.posts {
		if post.Status == StatusPendingApproval {
			pending = append(pending, post)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].ScheduledTime.Before(pending[j].ScheduledTime)
	})
	return pending
}

// Stats summarizes the post pipeline and aggregate engagement.
type Stats struct {
	TotalPosts      int                `json:"total_posts"`
	Published       int                `json:"published"`
	PendingApproval int                `json:"pending_approval"`
	Failed          int                `json:"failed"`
	TotalEngagement Engagement         `json:"total_engagement"`
	AveragePerPost  map[string]float64 `json:"average_engagement_per_post"`
}

// GetStats reports pipeline totals.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{TotalPosts: len(m.posts)}
	for _, post := range m.posts {
		switch post.Status {
		case StatusPublished:
			stats.Published++
		case StatusPendingApproval:
			stats.PendingApproval++
		case StatusFailed:
			stats.Failed++
		}
		stats.TotalEngagement.Likes += post.Engagement.Likes
		stats.TotalEngagement.Shares += post.Engagement.Shares
		stats.TotalEngagement.Comments += post.Engagement.Comments
		stats.TotalEngagement.Reach += post.Engagement.Reach
	}

	divisor := float64(stats.Published)
	if divisor == 0 {
		divisor = 1
	}
	stats.AveragePerPost = map[string]float64{
		"likes":    round2(float64(stats.TotalEngagement.Likes) / divisor),
		"shares":   round2(float64(stats.TotalEngagement.Shares) / divisor),
		"comments": round2(float64(stats.TotalEngagement.Comments) / divisor),
		"reach":    round2(float64(stats.TotalEngagement.Reach) / divisor),
	}
	return stats
}

// GetPost returns a post by id, or nil when unknown.
func (m *Manager) GetPost(postID string) *Post {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.posts[postID]
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
