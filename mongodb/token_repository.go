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

// TokenRepositoryMongo implements domain.TokenRepository, the token
// ledger. Refresh token rows are keyed by SHA-256 hash; revocation state
// lives in a separate lineage collection so revoking survives refresh
// token expiry and TTL cleanup.
type TokenRepositoryMongo struct {
	refreshTokens   *mongo.Collection
	revokedLineages *mongo.Collection
}

// NewTokenRepositoryMongo creates the ledger and ensures its indexes.
func NewTokenRepositoryMongo(ctx context.Context, db *mongo.Database) (*TokenRepositoryMongo, error) {
	repo := &TokenRepositoryMongo{
		refreshTokens:   db.Collection(RefreshTokensCollection),
		revokedLineages: db.Collection(RevokedLineagesCollection),
	}
	if err := repo.createIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to create token ledger indexes")
	}
	return repo, nil
}

func (r *TokenRepositoryMongo) createIndexes(ctx context.Context) error {
	_, err := r.refreshTokens.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "token_hash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "lineage_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes for %s collection: %w", RefreshTokensCollection, err)
	}
	return nil
}

func (r *TokenRepositoryMongo) StoreRefreshToken(ctx context.Context, token *domain.RefreshToken) error {
	if token.ID == "" {
		token.ID = NewObjectID()
	}
	now := time.Now().UTC()
	token.CreatedAt = now
	token.LastUsedAt = now

	if _, err := r.refreshTokens.InsertOne(ctx, token); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

func (r *TokenRepositoryMongo) GetRefreshToken(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	var token domain.RefreshToken
	err := r.refreshTokens.FindOne(ctx, bson.M{"token_hash": tokenHash}).Decode(&token)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, autherrors.ErrTokenExpiredOrRevoked
		}
		return nil, fmt.Errorf("failed to retrieve refresh token: %w", err)
	}
	return &token, nil
}

// TouchRefreshToken extends the expiry only while the row is unrevoked
// and unexpired. The conditional write is what serializes a rotation
// racing a revocation: whichever commits first wins, the other sees the
// new state.
func (r *TokenRepositoryMongo) TouchRefreshToken(ctx context.Context, tokenHash string, expiresAt, now time.Time) (bool, error) {
	filter := bson.M{
		"token_hash": tokenHash,
		"is_revoked": bson.M{"$ne": true},
		"expires_at": bson.M{"$gt": now},
	}
	update := bson.M{"$set": bson.M{"expires_at": expiresAt, "last_used_at": now}}

	result, err := r.refreshTokens.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to touch refresh token: %w", err)
	}
	return result.MatchedCount == 1, nil
}

// RevokeLineage is idempotent: the lineage row is upserted and every
// refresh token in the lineage flagged, in that order, so a concurrent
// rotation can never observe a revoked lineage with a live refresh
// token.
func (r *TokenRepositoryMongo) RevokeLineage(ctx context.Context, lineageID, userID string) error {
	filter := bson.M{"_id": lineageID}
	update := bson.M{"$setOnInsert": &domain.RevokedLineage{
		LineageID: lineageID,
		UserID:    userID,
		RevokedAt: time.Now().UTC(),
	}}
	if _, err := r.revokedLineages.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to record lineage revocation: %w", err)
	}

	if _, err := r.refreshTokens.UpdateMany(ctx,
		bson.M{"lineage_id": lineageID},
		bson.M{"$set": bson.M{"is_revoked": true}},
	); err != nil {
		return fmt.Errorf("failed to flag refresh tokens revoked: %w", err)
	}
	log.Debug().Str("lineageID", lineageID).Msg("Token lineage revoked")
	return nil
}

func (r *TokenRepositoryMongo) IsLineageRevoked(ctx context.Context, lineageID string) (bool, error) {
	err := r.revokedLineages.FindOne(ctx, bson.M{"_id": lineageID}).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check lineage revocation: %w", err)
	}
	return true, nil
}

// RevokeAllForUser revokes every lineage that still has an unexpired
// refresh token for the user. Used when a password changes.
func (r *TokenRepositoryMongo) RevokeAllForUser(ctx context.Context, userID string) error {
	cursor, err := r.refreshTokens.Find(ctx,
		bson.M{"user_id": userID, "expires_at": bson.M{"$gt": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("failed to list refresh tokens for user: %w", err)
	}
	defer cursor.Close(ctx)

	var tokens []*domain.RefreshToken
	if err := cursor.All(ctx, &tokens); err != nil {
		return fmt.Errorf("failed to decode refresh tokens: %w", err)
	}

	for _, token := range tokens {
		if err := r.RevokeLineage(ctx, token.LineageID, userID); err != nil {
			return err
		}
	}
	return nil
}
