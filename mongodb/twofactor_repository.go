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

// TwoFactorRepositoryMongo implements domain.TwoFactorRepository. The
// TOTP replay guard and recovery-code consumption are both conditional
// single-document writes, so concurrent verifications cannot double
// spend.
type TwoFactorRepositoryMongo struct {
	secrets       *mongo.Collection
	recoveryCodes *mongo.Collection
}

// NewTwoFactorRepositoryMongo creates the repository and ensures its
// indexes.
func NewTwoFactorRepositoryMongo(ctx context.Context, db *mongo.Database) (*TwoFactorRepositoryMongo, error) {
	repo := &TwoFactorRepositoryMongo{
		secrets:       db.Collection(TwoFactorSecretsCollection),
		recoveryCodes: db.Collection(RecoveryCodesCollection),
	}
	if err := repo.createIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to create twofactor indexes")
	}
	return repo, nil
}

func (r *TwoFactorRepositoryMongo) createIndexes(ctx context.Context) error {
	_, err := r.secrets.Indexes().CreateOne(ctx, mongo.IndexModel{
		// At most one secret per (user, method).
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "method", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes for %s collection: %w", TwoFactorSecretsCollection, err)
	}

	_, err = r.recoveryCodes.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes for %s collection: %w", RecoveryCodesCollection, err)
	}
	return nil
}

func (r *TwoFactorRepositoryMongo) UpsertSecret(ctx context.Context, secret *domain.TwoFactorSecret) error {
	now := time.Now().UTC()
	if secret.ID == "" {
		secret.ID = NewObjectID()
	}
	secret.UpdatedAt = now

	filter := bson.M{"user_id": secret.UserID, "method": secret.Method}
	update := bson.M{
		"$set": bson.M{
			"secret":         secret.Secret,
			"verified":       secret.Verified,
			"last_used_step": secret.LastUsedStep,
			"updated_at":     secret.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"_id":        secret.ID,
			"user_id":    secret.UserID,
			"method":     secret.Method,
			"created_at": now,
		},
	}
	_, err := r.secrets.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert twofactor secret: %w", err)
	}
	return nil
}

func (r *TwoFactorRepositoryMongo) GetSecret(ctx context.Context, userID string) (*domain.TwoFactorSecret, error) {
	var secret domain.TwoFactorSecret
	err := r.secrets.FindOne(ctx, bson.M{"user_id": userID}).Decode(&secret)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, autherrors.ErrTwoFactorNotEnabled
		}
		return nil, fmt.Errorf("failed to retrieve twofactor secret: %w", err)
	}
	return &secret, nil
}

func (r *TwoFactorRepositoryMongo) MarkVerified(ctx context.Context, userID string) error {
	update := bson.M{"$set": bson.M{"verified": true, "updated_at": time.Now().UTC()}}
	result, err := r.secrets.UpdateOne(ctx, bson.M{"user_id": userID}, update)
	if err != nil {
		return fmt.Errorf("failed to mark twofactor secret verified: %w", err)
	}
	if result.MatchedCount == 0 {
		return autherrors.ErrTwoFactorNotPending
	}
	return nil
}

// AdvanceLastUsedStep only matches while the stored step is strictly
// below the accepted one, making replay of the same step a lost race.
func (r *TwoFactorRepositoryMongo) AdvanceLastUsedStep(ctx context.Context, userID string, step int64) (bool, error) {
	filter := bson.M{"user_id": userID, "last_used_step": bson.M{"$lt": step}}
	update := bson.M{"$set": bson.M{"last_used_step": step, "updated_at": time.Now().UTC()}}

	result, err := r.secrets.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to advance twofactor step: %w", err)
	}
	return result.MatchedCount == 1, nil
}

func (r *TwoFactorRepositoryMongo) DeleteSecret(ctx context.Context, userID string) error {
	if _, err := r.secrets.DeleteOne(ctx, bson.M{"user_id": userID}); err != nil {
		return fmt.Errorf("failed to delete twofactor secret: %w", err)
	}
	return nil
}

// ReplaceRecoveryCodes swaps the user's batch wholesale: old codes are
// removed, then the new hashes inserted.
func (r *TwoFactorRepositoryMongo) ReplaceRecoveryCodes(ctx context.Context, userID string, codeHashes []string) error {
	if _, err := r.recoveryCodes.DeleteMany(ctx, bson.M{"user_id": userID}); err != nil {
		return fmt.Errorf("failed to clear recovery codes: %w", err)
	}
	if len(codeHashes) == 0 {
		return nil
	}

	now := time.Now().UTC()
	docs := make([]any, 0, len(codeHashes))
	for _, hash := range codeHashes {
		docs = append(docs, &domain.RecoveryCode{
			ID:        NewObjectID(),
			UserID:    userID,
			CodeHash:  hash,
			CreatedAt: now,
		})
	}
	if _, err := r.recoveryCodes.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to store recovery codes: %w", err)
	}
	return nil
}

func (r *TwoFactorRepositoryMongo) ListRecoveryCodes(ctx context.Context, userID string) ([]*domain.RecoveryCode, error) {
	cursor, err := r.recoveryCodes.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list recovery codes: %w", err)
	}
	defer cursor.Close(ctx)

	var codes []*domain.RecoveryCode
	if err := cursor.All(ctx, &codes); err != nil {
		return nil, fmt.Errorf("failed to decode recovery codes: %w", err)
	}
	return codes, nil
}

// ConsumeRecoveryCode deletes the row if it still exists. DeletedCount
// tells the winner of a concurrent double spend apart from the loser.
func (r *TwoFactorRepositoryMongo) ConsumeRecoveryCode(ctx context.Context, id string) (bool, error) {
	result, err := r.recoveryCodes.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, fmt.Errorf("failed to consume recovery code: %w", err)
	}
	return result.DeletedCount == 1, nil
}

func (r *TwoFactorRepositoryMongo) CountRecoveryCodes(ctx context.Context, userID string) (int64, error) {
	count, err := r.recoveryCodes.CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("failed to count recovery codes: %w", err)
	}
	return count, nil
}

func (r *TwoFactorRepositoryMongo) DeleteRecoveryCodes(ctx context.Context, userID string) error {
	if _, err := r.recoveryCodes.DeleteMany(ctx, bson.M{"user_id": userID}); err != nil {
		return fmt.Errorf("failed to delete recovery codes: %w", err)
	}
	return nil
}
