package memory

import (
	"context"
	"sync"

	"github.com/taskdeck/go-notification-service/pkg/dispatch"
	"github.com/taskdeck/go-notification-service/pkg/notify"
)

// TokenStore is an in-process dispatch.TokenStore keyed by user id.
type TokenStore struct {
	mu      sync.Mutex
	devices map[string][]notify.PushToken
}

func NewTokenStore() *TokenStore {
	return &TokenStore{devices: make(map[string][]notify.PushToken)}
}

// Register upserts a device registration. Web registrations are deduplicated
// by subscription endpoint, all others by token string.
func (s *TokenStore) Register(_ context.Context, userID string, token notify.PushToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token.UserID = userID
	key := registrationKey(token)
	existing := s.devices[userID]
	for i, t := range existing {
		if registrationKey(t) == key {
			existing[i] = token
			return nil
		}
	}
	s.devices[userID] = append(existing, token)
	return nil
}

// Unregister removes one registration; unknown tokens are a no-op.
func (s *TokenStore) Unregister(_ context.Context, userID string, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.devices[userID]
	kept := existing[:0]
	for _, t := range existing {
		if registrationKey(t) != token {
			kept = append(kept, t)
		}
	}
	s.devices[userID] = kept
	return nil
}

// Fetch buckets the user's registrations by delivery platform. Tokens with an
// unknown or empty platform fall into the Expo bucket, the default gateway.
func (s *TokenStore) Fetch(_ context.Context, userID string) (*dispatch.DeviceTargets, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets := &dispatch.DeviceTargets{
		ExpoTokens:       make([]string, 0),
		FCMTokens:        make([]string, 0),
		APNSTokens:       make([]string, 0),
		WebSubscriptions: make([]notify.WebPushSubscription, 0),
	}
	for _, t := range s.devices[userID] {
		switch t.Platform {
		case notify.PlatformWeb:
			if t.WebSubscription != nil {
				targets.WebSubscriptions = append(targets.WebSubscriptions, *t.WebSubscription)
			}
		case notify.PlatformFCM:
			targets.FCMTokens = append(targets.FCMTokens, t.Token)
		case notify.PlatformAPNS:
			targets.APNSTokens = append(targets.APNSTokens, t.Token)
		default:
			if t.Token != "" {
				targets.ExpoTokens = append(targets.ExpoTokens, t.Token)
			}
		}
	}
	return targets, nil
}

func registrationKey(t notify.PushToken) string {
	if t.Platform == notify.PlatformWeb && t.WebSubscription != nil {
		return t.WebSubscription.Endpoint
	}
	return t.Token
}
