// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// See the LICENSE.txt file for the full license text.

package social

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"
)

// fakePoster records publishes and serves canned metrics.
type fakePoster struct {
	published []string
	err       error
	metrics   Engagement
}

func (f *fakePoster) Publish(ctx context.Context, post *Post) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.published = append(f.published, post.PostID)
	return fmt.Sprintf("ext_%d", len(f.published)), nil
}

func (f *fakePoster) Metrics(ctx context.Context, externalID string) (Engagement, error) {
	return f.metrics, nil
}

func newTestManager(cfg Config) *Manager {
	cfg.Rand = rand.New(rand.NewSource(1))
	return NewManager(cfg)
}

func TestCreatePost(t *testing.T) {
	t.Run("consent required routes to pending queue", func(t *testing.T) {
		m := newTestManager(Config{RequireConsent: true})
		post := m.CreatePost("wellness", map[string]string{
			"metric": "HRV", "protocol": "morning breathwork", "improvement": "8",
			"frequency": "432", "day": "12", "achievement": "7 day streak",
		}, PlatformTwitter, time.Time{}, false)

		if post.Status != StatusPendingApproval {
			t.Errorf("status = %s, want pending_approval", post.Status)
		}
		if strings.Contains(post.Content, "{") {
			t.Errorf("unfilled placeholder in content: %q", post.Content)
		}
	})

	t.Run("no consent requirement schedules directly", func(t *testing.T) {
		m := newTestManager(Config{})
		post := m.CreatePost("creative", map[string]string{
			"creation_type": "a website", "title": "Quiet Garden",
			"project_name": "pollen", "project": "the hive", "milestone": "v1",
		}, PlatformLinkedIn, time.Time{}, false)
		if post.Status != StatusScheduled {
			t.Errorf("status = %s, want scheduled", post.Status)
		}
	})

	t.Run("missing context falls back to raw template", func(t *testing.T) {
		m := newTestManager(Config{})
		post := m.CreatePost("wellness", map[string]string{}, PlatformTwitter, time.Time{}, false)
		if !strings.Contains(post.Content, "{") {
			t.Errorf("expected raw template for empty context, got %q", post.Content)
		}
	})

	t.Run("twitter posts are truncated", func(t *testing.T) {
		m := newTestManager(Config{})
		long := strings.Repeat("calm ", 100)
		post := m.CreatePost("creative", map[string]string{
			"creation_type": long, "title": long, "project_name": long,
			"project": long, "milestone": long,
		}, PlatformTwitter, time.Time{}, false)
		if n := len([]rune(post.Content)); n > 280 {
			t.Errorf("content length = %d, want <= 280", n)
		}
		if !strings.HasSuffix(post.Content, "...") {
			t.Error("truncated content missing ellipsis")
		}
	})
}

func TestApproveAndPublish(t *testing.T) {
	m := newTestManager(Config{Enabled: true, RequireConsent: true})
	poster := &fakePoster{}
	m.RegisterPoster(PlatformTwitter, poster)

	post := m.CreatePost("community", map[string]string{
		"activity": "new node joined", "insight": "resonance", "pattern": "growth",
		"community_aspect": "the builders", "guidance": "rest",
	}, PlatformTwitter, time.Time{}, true)

	// Publishing before approval must fail.
	if err := m.PublishPost(context.Background(), post.PostID); err == nil {
		t.Fatal("expected error publishing unapproved post")
	}

	if !m.ApprovePost(post.PostID) {
		t.Fatal("ApprovePost returned false")
	}
	if m.ApprovePost(post.PostID) {
		t.Error("second approval should return false")
	}

	if err := m.PublishPost(context.Background(), post.PostID); err != nil {
		t.Fatalf("PublishPost failed: %v", err)
	}

	got := m.GetPost(post.PostID)
	if got.Status != StatusPublished {
		t.Errorf("status = %s, want published", got.Status)
	}
	if got.ExternalID != "ext_1" {
		t.Errorf("external id = %q", got.ExternalID)
	}
	if got.PublishedAt == nil {
		t.Error("published_at not set")
	}
}

func TestPublishUnconfiguredPlatform(t *testing.T) {
	m := newTestManager(Config{})
	post := m.CreatePost("wellness", nil, PlatformTikTok, time.Time{}, false)

	err := m.PublishPost(context.Background(), post.PostID)
	if err == nil {
		t.Fatal("expected error for unconfigured platform")
	}
	if got := m.GetPost(post.PostID); got.Status != StatusFailed || got.ErrorMessage == "" {
		t.Errorf("post = %+v, want failed with error message", got)
	}
}

func TestScheduleDailyPosts(t *testing.T) {
	m := newTestManager(Config{RequireConsent: true})
	m.ScheduleDailyPosts(
		map[string]string{"metric": "HRV"},
		map[string]string{"title": "Quiet Garden"},
	)

	pending := m.PendingPosts()
	if len(pending) != 3 {
		t.Fatalf("got %d pending posts, want 3", len(pending))
	}
	for _, p := range pending {
		if p.Platform != PlatformTwitter {
			t.Errorf("platform = %s, want twitter", p.Platform)
		}
		if p.ScheduledTime.Before(time.Now().UTC().Add(-time.Minute)) {
			t.Errorf("scheduled time in the past: %v", p.ScheduledTime)
		}
	}
	// Slots must be ordered morning, afternoon, evening.
	for i := 1; i < len(pending); i++ {
		if pending[i].ScheduledTime.Before(pending[i-1].ScheduledTime) {
			t.Error("pending posts not sorted by schedule time")
		}
	}
}

func TestDailyLimit(t *testing.T) {
	m := newTestManager(Config{Enabled: true, DailyPostLimit: 2})
	poster := &fakePoster{}
	m.RegisterPoster(PlatformTwitter, poster)

	past := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		m.CreatePost("wellness", nil, PlatformTwitter, past, false)
	}

	m.publishDue(context.Background())

	if len(poster.published) != 2 {
		t.Errorf("published %d posts, want 2 (daily cap)", len(poster.published))
	}
}

func TestTrackEngagement(t *testing.T) {
	m := newTestManager(Config{Enabled: true})
	poster := &fakePoster{metrics: Engagement{Likes: 12, Shares: 3, Comments: 2, Reach: 400}}
	m.RegisterPoster(PlatformTwitter, poster)

	post := m.CreatePost("wellness", nil, PlatformTwitter, time.Time{}, false)
	if err := m.PublishPost(context.Background(), post.PostID); err != nil {
		t.Fatal(err)
	}

	got, err := m.TrackEngagement(context.Background(), post.PostID)
	if err != nil {
		t.Fatalf("TrackEngagement failed: %v", err)
	}
	if got.Likes != 12 || got.Reach != 400 {
		t.Errorf("engagement = %+v", got)
	}

	stats := m.GetStats()
	if stats.Published != 1 || stats.TotalEngagement.Likes != 12 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.AveragePerPost["likes"] != 12.0 {
		t.Errorf("average likes = %v", stats.AveragePerPost["likes"])
	}
}

func TestGenerateContent(t *testing.T) {
	m := newTestManager(Config{})

	content := m.GenerateContent("wellness", map[string]string{"metric": "resting heart rate"})
	if strings.Contains(content, "{") {
		t.Errorf("unfilled placeholder: %q", content)
	}

	// Unknown sources draw from community templates with defaults.
	content = m.GenerateContent("unknown", nil)
	if strings.Contains(content, "{") {
		t.Errorf("unfilled placeholder: %q", content)
	}
}

func TestParsePlatform(t *testing.T) {
	if p, err := ParsePlatform("twitter"); err != nil || p != PlatformTwitter {
		t.Errorf("ParsePlatform(twitter) = %v, %v", p, err)
	}
	if _, err := ParsePlatform("myspace"); err == nil {
		t.Error("expected error for unknown platform")
	}
}
