package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.craftbench.dev/auth/domain"
	autherrors "go.craftbench.dev/auth/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// PasskeyRepositoryMongo implements domain.PasskeyRepository. Signature
// counter updates are compare-and-swap writes; ceremony challenges are
// consumed with a find-and-delete so each is usable exactly once.
type PasskeyRepositoryMongo struct {
	credentials *mongo.Collection
	challenges  *mongo.Collection
}

// NewPasskeyRepositoryMongo creates the repository and ensures its
// indexes, including the TTL index that reaps expired challenges.
func NewPasskeyRepositoryMongo(ctx context.Context, db *mongo.Database) (*PasskeyRepositoryMongo, error) {
	repo := &PasskeyRepositoryMongo{
		credentials: db.Collection(PasskeyCredsCollection),
		challenges:  db.Collection(PasskeyChallengesCollection),
	}
	if err := repo.createIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to create passkey indexes")
	}
	return repo, nil
}

func (r *PasskeyRepositoryMongo) createIndexes(ctx context.Context) error {
	_, err := r.credentials.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "credential_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes for %s collection: %w", PasskeyCredsCollection, err)
	}

	_, err = r.challenges.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "challenge", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// TTL reaping is a cleanup mechanism only; expiry is still
			// checked on consumption since the reaper can lag.
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes for %s collection: %w", PasskeyChallengesCollection, err)
	}
	return nil
}

func (r *PasskeyRepositoryMongo) CreateCredential(ctx context.Context, cred *domain.PasskeyCredential) error {
	if cred.ID == "" {
		cred.ID = NewObjectID()
	}
	cred.CreatedAt = time.Now().UTC()

	if _, err := r.credentials.InsertOne(ctx, cred); err != nil {
		if isDuplicateKey(err) {
			return autherrors.ErrCredentialExists
		}
		return fmt.Errorf("failed to create passkey credential: %w", err)
	}
	log.Debug().Str("userID", cred.UserID).Str("credentialID", cred.CredentialID).Msg("Passkey credential registered")
	return nil
}

func (r *PasskeyRepositoryMongo) GetCredentialByCredentialID(ctx context.Context, credentialID string) (*domain.PasskeyCredential, error) {
	var cred domain.PasskeyCredential
	err := r.credentials.FindOne(ctx, bson.M{"credential_id": credentialID}).Decode(&cred)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, autherrors.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to retrieve passkey credential: %w", err)
	}
	return &cred, nil
}

func (r *PasskeyRepositoryMongo) ListCredentialsByUser(ctx context.Context, userID string) ([]*domain.PasskeyCredential, error) {
	cursor, err := r.credentials.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list passkey credentials: %w", err)
	}
	defer cursor.Close(ctx)

	var creds []*domain.PasskeyCredential
	if err := cursor.All(ctx, &creds); err != nil {
		return nil, fmt.Errorf("failed to decode passkey credentials: %w", err)
	}
	return creds, nil
}

// UpdateSignCount advances the counter only when the stored value still
// equals fromCount. A zero MatchedCount means a concurrent assertion got
// there first.
func (r *PasskeyRepositoryMongo) UpdateSignCount(ctx context.Context, credentialID string, fromCount, toCount uint32, usedAt time.Time) (bool, error) {
	filter := bson.M{"credential_id": credentialID, "sign_count": fromCount}
	update := bson.M{"$set": bson.M{"sign_count": toCount, "last_used_at": usedAt}}

	result, err := r.credentials.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to update sign count: %w", err)
	}
	return result.MatchedCount == 1, nil
}

func (r *PasskeyRepositoryMongo) DeleteCredential(ctx context.Context, userID, credentialID string) error {
	result, err := r.credentials.DeleteOne(ctx, bson.M{"user_id": userID, "credential_id": credentialID})
	if err != nil {
		return fmt.Errorf("failed to delete passkey credential: %w", err)
	}
	if result.DeletedCount == 0 {
		return autherrors.ErrCredentialNotFound
	}
	return nil
}

func (r *PasskeyRepositoryMongo) SaveChallenge(ctx context.Context, challenge *domain.PasskeyChallenge) error {
	if challenge.ID == "" {
		challenge.ID = NewObjectID()
	}
	challenge.CreatedAt = time.Now().UTC()

	if _, err := r.challenges.InsertOne(ctx, challenge); err != nil {
		return fmt.Errorf("failed to save challenge: %w", err)
	}
	return nil
}

// ConsumeChallenge removes and returns the challenge in one operation.
func (r *PasskeyRepositoryMongo) ConsumeChallenge(ctx context.Context, challenge string) (*domain.PasskeyChallenge, error) {
	var consumed domain.PasskeyChallenge
	err := r.challenges.FindOneAndDelete(ctx, bson.M{"challenge": challenge}).Decode(&consumed)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, autherrors.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}
	return &consumed, nil
}
