// Package firestore implements the device token store on Google Cloud
// Firestore, the source of truth behind the optional Redis cache layer.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/taskdeck/go-notification-service/pkg/dispatch"
	"github.com/taskdeck/go-notification-service/pkg/notify"
)

// TokenStore implements dispatch.TokenStore using Firestore.
type TokenStore struct {
	client *firestore.Client
}

func NewTokenStore(client *firestore.Client) *TokenStore {
	return &TokenStore{client: client}
}

// deviceRecord is the stored representation. It holds EITHER an opaque token
// string OR a web subscription object, depending on the platform.
type deviceRecord struct {
	Platform        string                      `firestore:"platform"`
	Token           string                      `firestore:"token,omitempty"`
	DeviceName      string                      `firestore:"device_name,omitempty"`
	WebSubscription *notify.WebPushSubscription `firestore:"web_subscription,omitempty"`
	UpdatedAt       time.Time                   `firestore:"updated_at"`
}

// Register upserts one device. The doc id is a hash of the registration key
// (token string, or endpoint for web), which both deduplicates and avoids
// hot-spotting.
func (s *TokenStore) Register(ctx context.Context, userID string, token notify.PushToken) error {
	key := token.Token
	platform := token.Platform
	if platform == "" {
		platform = notify.PlatformExpo
	}
	if platform == notify.PlatformWeb {
		if token.WebSubscription == nil {
			return fmt.Errorf("web registration requires a subscription object")
		}
		key = token.WebSubscription.Endpoint
	}

	record := deviceRecord{
		Platform:        platform,
		Token:           token.Token,
		DeviceName:      token.DeviceName,
		WebSubscription: token.WebSubscription,
		UpdatedAt:       time.Now(),
	}

	_, err := s.deviceRef(userID, hashKey(key)).Set(ctx, record)
	return err
}

// Unregister deletes one device by its registration key. Deleting a missing
// doc is not an error.
func (s *TokenStore) Unregister(ctx context.Context, userID string, token string) error {
	_, err := s.deviceRef(userID, hashKey(token)).Delete(ctx)
	return err
}

// Fetch queries every device for the user and sorts them into platform
// buckets for the fan-out.
func (s *TokenStore) Fetch(ctx context.Context, userID string) (*dispatch.DeviceTargets, error) {
	iter := s.devicesCollection(userID).Documents(ctx)
	defer iter.Stop()

	targets := &dispatch.DeviceTargets{
		ExpoTokens:       make([]string, 0),
		FCMTokens:        make([]string, 0),
		APNSTokens:       make([]string, 0),
		WebSubscriptions: make([]notify.WebPushSubscription, 0),
	}

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			// Corrupt rows are skipped rather than failing the whole fan-out.
			continue
		}

		switch {
		case record.Platform == notify.PlatformWeb && record.WebSubscription != nil:
			targets.WebSubscriptions = append(targets.WebSubscriptions, *record.WebSubscription)
		case record.Platform == notify.PlatformFCM && record.Token != "":
			targets.FCMTokens = append(targets.FCMTokens, record.Token)
		case record.Platform == notify.PlatformAPNS && record.Token != "":
			targets.APNSTokens = append(targets.APNSTokens, record.Token)
		case record.Token != "":
			targets.ExpoTokens = append(targets.ExpoTokens, record.Token)
		}
	}

	return targets, nil
}

// deviceRef: users/{userID}/devices/{deviceHash}
func (s *TokenStore) deviceRef(userID, docID string) *firestore.DocumentRef {
	return s.devicesCollection(userID).Doc(docID)
}

func (s *TokenStore) devicesCollection(userID string) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(userID).Collection("devices")
}

func hashKey(k string) string {
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:])
}
