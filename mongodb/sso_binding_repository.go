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

// SSOBindingRepositoryMongo implements domain.SSOBindingRepository. The
// two unique indexes carry the binding invariants: one account from a
// provider per user, one local user per external identity.
type SSOBindingRepositoryMongo struct {
	collection *mongo.Collection
}

// NewSSOBindingRepositoryMongo creates the repository and ensures its
// indexes.
func NewSSOBindingRepositoryMongo(ctx context.Context, db *mongo.Database) (*SSOBindingRepositoryMongo, error) {
	repo := &SSOBindingRepositoryMongo{collection: db.Collection(SSOBindingsCollection)}
	if err := repo.createIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to create sso_bindings indexes")
	}
	return repo, nil
}

func (r *SSOBindingRepositoryMongo) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "provider", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "provider_user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes for %s collection: %w", SSOBindingsCollection, err)
	}
	return nil
}

func (r *SSOBindingRepositoryMongo) Create(ctx context.Context, binding *domain.SSOBinding) error {
	if binding.ID == "" {
		binding.ID = NewObjectID()
	}
	now := time.Now().UTC()
	binding.CreatedAt = now
	binding.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, binding); err != nil {
		if isDuplicateKey(err) {
			return autherrors.ErrBindingExists
		}
		return fmt.Errorf("failed to create sso binding: %w", err)
	}
	log.Debug().Str("userID", binding.UserID).Str("provider", binding.Provider).Msg("SSO binding created")
	return nil
}

func (r *SSOBindingRepositoryMongo) GetByProviderUserID(ctx context.Context, provider, providerUserID string) (*domain.SSOBinding, error) {
	return r.findOne(ctx, bson.M{"provider": provider, "provider_user_id": providerUserID})
}

func (r *SSOBindingRepositoryMongo) GetByUserAndProvider(ctx context.Context, userID, provider string) (*domain.SSOBinding, error) {
	return r.findOne(ctx, bson.M{"user_id": userID, "provider": provider})
}

func (r *SSOBindingRepositoryMongo) findOne(ctx context.Context, filter bson.M) (*domain.SSOBinding, error) {
	var binding domain.SSOBinding
	err := r.collection.FindOne(ctx, filter).Decode(&binding)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, autherrors.ErrBindingNotFound
		}
		return nil, fmt.Errorf("failed to retrieve sso binding: %w", err)
	}
	return &binding, nil
}

func (r *SSOBindingRepositoryMongo) ListByUser(ctx context.Context, userID string) ([]*domain.SSOBinding, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list sso bindings: %w", err)
	}
	defer cursor.Close(ctx)

	var bindings []*domain.SSOBinding
	if err := cursor.All(ctx, &bindings); err != nil {
		return nil, fmt.Errorf("failed to decode sso bindings: %w", err)
	}
	return bindings, nil
}

func (r *SSOBindingRepositoryMongo) Delete(ctx context.Context, userID, provider string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"user_id": userID, "provider": provider})
	if err != nil {
		return fmt.Errorf("failed to delete sso binding: %w", err)
	}
	if result.DeletedCount == 0 {
		return autherrors.ErrBindingNotFound
	}
	return nil
}
