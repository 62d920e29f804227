package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/hnguyen/pitchside/internal/database"
	"github.com/hnguyen/pitchside/internal/models"
)

// Config holds notification service configuration
type Config struct {
	// VAPID keys for Web Push
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string // mailto: or https:// URL

	// Batching
	BatchInterval time.Duration

	// Enable/disable
	Enabled bool
}

// DefaultConfig returns default notification configuration
func DefaultConfig() Config {
	return Config{
		BatchInterval: 60 * time.Second,
		Enabled:       true,
	}
}

// Service pushes a web notification when a verification settles a pick.
// Resolutions are batched, deduplicated per pick+status, and gated by quiet
// hours and an hourly rate limit.
type Service struct {
	config Config
	db     *database.DB

	// Pending resolutions for batching
	mu      sync.Mutex
	pending []models.SavedPick

	// Control
	stopCh chan struct{}
}

// NewService creates a new notification service
func NewService(config Config, db *database.DB) *Service {
	return &Service{
		config:  config,
		db:      db,
		pending: make([]models.SavedPick, 0),
		stopCh:  make(chan struct{}),
	}
}

// Start starts the batch processing loop
func (s *Service) Start(ctx context.Context) {
	if s.config.BatchInterval <= 0 {
		s.config.BatchInterval = 60 * time.Second
	}

	ticker := time.NewTicker(s.config.BatchInterval)
	defer ticker.Stop()

	log.Printf("Notification service started (batch interval: %v)", s.config.BatchInterval)

	for {
		select {
		case <-ctx.Done():
			s.processBatch() // Flush any remaining resolutions
			log.Println("Notification service stopped")
			return
		case <-s.stopCh:
			s.processBatch()
			return
		case <-ticker.C:
			s.processBatch()
		}
	}
}

// Stop stops the notification service
func (s *Service) Stop() {
	close(s.stopCh)
}

// PickResolved queues a settled pick for the next push batch. A pick is
// announced at most once per status.
func (s *Service) PickResolved(pick models.SavedPick) {
	if !s.config.Enabled {
		return
	}
	if pick.Status == models.StatusPending {
		return
	}

	notified, err := s.db.WasNotified(pick.ID, pick.Status)
	if err != nil {
		log.Printf("Notification dedup check failed: %v", err)
		return
	}
	if notified {
		return
	}

	s.mu.Lock()
	s.pending = append(s.pending, pick)
	s.mu.Unlock()

	log.Printf("Pick resolution queued: %s vs %s (%s)", pick.Match.HomeTeam, pick.Match.AwayTeam, pick.Status)
}

// processBatch sends one push for the pending resolutions
func (s *Service) processBatch() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}

	batch := s.pending
	s.pending = make([]models.SavedPick, 0)
	s.mu.Unlock()

	// Check if we're in quiet hours
	if s.isQuietHours() {
		log.Printf("Quiet hours - skipping push for %d resolutions", len(batch))
		return
	}

	// Check rate limit
	if !s.checkRateLimit("push") {
		log.Printf("Rate limit exceeded - skipping push for %d resolutions", len(batch))
		return
	}

	if err := s.sendPush(batch); err != nil {
		log.Printf("Failed to send push notification: %v", err)
		return
	}

	for _, p := range batch {
		if err := s.db.MarkNotified(p.ID, p.Status); err != nil {
			log.Printf("Failed to mark pick %s notified: %v", p.ID, err)
		}
	}
}

// sendPush sends a batched push notification
func (s *Service) sendPush(batch []models.SavedPick) error {
	if s.config.VAPIDPrivateKey == "" || s.config.VAPIDPublicKey == "" {
		log.Println("VAPID keys not configured - skipping push")
		return nil
	}

	prefs, err := s.db.GetPreferences()
	if err != nil {
		return fmt.Errorf("failed to get preferences: %w", err)
	}

	if !prefs.EnablePush || prefs.PushSubscription == "" {
		return nil
	}

	payload := PushPayload{
		Title: s.formatTitle(batch),
		Body:  s.formatBody(batch),
		Icon:  "/icon-192.png",
		Badge: "/badge-72.png",
		Tag:   "pick-results",
		Data: PushData{
			URL:   "/",
			Count: len(batch),
		},
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	// Parse subscription
	sub := &webpush.Subscription{}
	if err := json.Unmarshal([]byte(prefs.PushSubscription), sub); err != nil {
		return fmt.Errorf("failed to parse subscription: %w", err)
	}

	resp, err := webpush.SendNotification(payloadJSON, sub, &webpush.Options{
		Subscriber:      s.config.VAPIDSubject,
		VAPIDPublicKey:  s.config.VAPIDPublicKey,
		VAPIDPrivateKey: s.config.VAPIDPrivateKey,
		TTL:             3600, // 1 hour
	})
	if err != nil {
		return fmt.Errorf("failed to send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Subscription might be invalid
		if resp.StatusCode == 410 || resp.StatusCode == 404 {
			log.Println("Push subscription expired/invalid - disabling")
			s.db.Unsubscribe()
		}
		return fmt.Errorf("push failed with status %d", resp.StatusCode)
	}

	s.db.IncrementRateLimit("push")

	log.Printf("Push notification sent: %d resolutions", len(batch))
	return nil
}

// formatTitle creates the push notification title
func (s *Service) formatTitle(batch []models.SavedPick) string {
	if len(batch) == 1 {
		p := batch[0]
		return fmt.Sprintf("Pick settled: %s vs %s", p.Match.HomeTeam, p.Match.AwayTeam)
	}

	won := 0
	for _, p := range batch {
		if p.Status == models.StatusWon {
			won++
		}
	}
	return fmt.Sprintf("%d picks settled (%d won)", len(batch), won)
}

// formatBody creates the push notification body
func (s *Service) formatBody(batch []models.SavedPick) string {
	if len(batch) == 1 {
		p := batch[0]
		body := fmt.Sprintf("%s: %s", p.Result.MainPick.Pick, p.Status)
		if p.Verification != nil && p.Verification.ActualScore != "" {
			body += fmt.Sprintf(" (final %s)", p.Verification.ActualScore)
		}
		return body
	}

	body := ""
	for i, p := range batch {
		if i >= 3 {
			break
		}
		if i > 0 {
			body += " | "
		}
		body += fmt.Sprintf("%s vs %s: %s", p.Match.HomeTeam, p.Match.AwayTeam, p.Status)
	}
	if len(batch) > 3 {
		body += fmt.Sprintf(" +%d more", len(batch)-3)
	}
	return body
}

// isQuietHours checks if current time is within quiet hours
func (s *Service) isQuietHours() bool {
	prefs, err := s.db.GetPreferences()
	if err != nil {
		return false
	}

	loc, err := time.LoadLocation(prefs.Timezone)
	if err != nil {
		loc = time.Local
	}

	now := time.Now().In(loc)
	currentMinutes := now.Hour()*60 + now.Minute()

	startHour, startMin := 23, 0
	fmt.Sscanf(prefs.QuietStart, "%d:%d", &startHour, &startMin)
	startMinutes := startHour*60 + startMin

	endHour, endMin := 8, 0
	fmt.Sscanf(prefs.QuietEnd, "%d:%d", &endHour, &endMin)
	endMinutes := endHour*60 + endMin

	// Handle overnight quiet hours (e.g., 23:00 - 08:00)
	if startMinutes > endMinutes {
		return currentMinutes >= startMinutes || currentMinutes < endMinutes
	}

	// Normal case (e.g., 02:00 - 06:00)
	return currentMinutes >= startMinutes && currentMinutes < endMinutes
}

// checkRateLimit checks if we can send on a channel
func (s *Service) checkRateLimit(channel string) bool {
	prefs, err := s.db.GetPreferences()
	if err != nil {
		return true
	}

	canSend, remaining, err := s.db.CheckRateLimit(channel, prefs.RateLimitPush)
	if err != nil {
		log.Printf("Rate limit check error: %v", err)
		return true
	}

	if !canSend {
		log.Printf("Rate limit exceeded for %s (0 remaining)", channel)
	} else {
		log.Printf("Rate limit OK for %s (%d remaining)", channel, remaining)
	}

	return canSend
}

// GetVAPIDPublicKey returns the public key for client subscription
func (s *Service) GetVAPIDPublicKey() string {
	return s.config.VAPIDPublicKey
}

// PushPayload represents the push notification payload
type PushPayload struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Icon  string   `json:"icon,omitempty"`
	Badge string   `json:"badge,omitempty"`
	Tag   string   `json:"tag,omitempty"`
	Data  PushData `json:"data,omitempty"`
}

// PushData represents custom data in push notification
type PushData struct {
	URL   string `json:"url,omitempty"`
	Count int    `json:"count"`
}
