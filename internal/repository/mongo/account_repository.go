package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"bizdir/internal/model"
	"bizdir/internal/util"
)

// accountRepository is the Mongo implementation of AccountRepository.
type accountRepository struct {
	accounts *mongo.Collection
	client   *Client
	logger   *zap.Logger
}

// NewAccountRepository creates the Mongo-backed account repository.
func NewAccountRepository(client *Client, logger *zap.Logger) AccountRepository {
	return &accountRepository{
		accounts: client.Accounts(),
		client:   client,
		logger:   logger,
	}
}

func (r *accountRepository) Create(ctx context.Context, acc *model.Account) error {
	if acc.ID.IsZero() {
		acc.ID = primitive.NewObjectID()
	}
	acc.CreatedAt = time.Now().UTC()

	if _, err := r.accounts.InsertOne(ctx, acc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}

	r.logger.Debug("account created", util.String("account_id", acc.ID.Hex()))
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*model.Account, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *accountRepository) GetByVerificationToken(ctx context.Context, token string) (*model.Account, error) {
	return r.findOne(ctx, bson.M{"verification_token": token})
}

func (r *accountRepository) GetByResetToken(ctx context.Context, token string) (*model.Account, error) {
	return r.findOne(ctx, bson.M{"reset_token": token})
}

func (r *accountRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	count, err := r.accounts.CountDocuments(ctx, bson.M{"email": email}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to count accounts by email: %w", err)
	}
	return count > 0, nil
}

func (r *accountRepository) UpdateSecurityState(ctx context.Context, id string, failedLogins int, lockedUntil, lastLoginAt *time.Time) error {
	set := bson.M{
		"failed_logins": failedLogins,
		"updated_at":    time.Now().UTC(),
	}
	unset := bson.M{}

	if lockedUntil != nil {
		set["locked_until"] = *lockedUntil
	} else {
		unset["locked_until"] = ""
	}
	if lastLoginAt != nil {
		set["last_login_at"] = *lastLoginAt
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return r.updateByID(ctx, id, update)
}

func (r *accountRepository) MarkVerified(ctx context.Context, id string) error {
	return r.updateByID(ctx, id, bson.M{
		"$set": bson.M{
			"verified":   true,
			"updated_at": time.Now().UTC(),
		},
		"$unset": bson.M{
			"verification_token":      "",
			"verification_expires_at": "",
		},
	})
}

func (r *accountRepository) SetVerificationToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	return r.updateByID(ctx, id, bson.M{
		"$set": bson.M{
			"verification_token":      token,
			"verification_expires_at": expiresAt,
			"updated_at":              time.Now().UTC(),
		},
	})
}

func (r *accountRepository) SetResetToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	return r.updateByID(ctx, id, bson.M{
		"$set": bson.M{
			"reset_token":      token,
			"reset_expires_at": expiresAt,
			"updated_at":       time.Now().UTC(),
		},
	})
}

func (r *accountRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.updateByID(ctx, id, bson.M{
		"$set": bson.M{
			"password_hash": passwordHash,
			"updated_at":    time.Now().UTC(),
		},
		"$unset": bson.M{
			"reset_token":      "",
			"reset_expires_at": "",
		},
	})
}

func (r *accountRepository) SetPendingEmailChange(ctx context.Context, id, newEmail, token string, expiresAt time.Time) error {
	return r.updateByID(ctx, id, bson.M{
		"$set": bson.M{
			"pending_email":           newEmail,
			"email_change_token":      token,
			"email_change_expires_at": expiresAt,
			"updated_at":              time.Now().UTC(),
		},
	})
}

func (r *accountRepository) CommitEmailChange(ctx context.Context, id, newEmail string) error {
	now := time.Now().UTC()
	return r.updateByID(ctx, id, bson.M{
		"$set": bson.M{
			"email":            newEmail,
			"email_changed_at": now,
			"updated_at":       now,
		},
		"$unset": bson.M{
			"pending_email":           "",
			"email_change_token":      "",
			"email_change_expires_at": "",
		},
	})
}

func (r *accountRepository) ClearPendingEmailChange(ctx context.Context, id string) error {
	return r.updateByID(ctx, id, bson.M{
		"$set": bson.M{"updated_at": time.Now().UTC()},
		"$unset": bson.M{
			"pending_email":           "",
			"email_change_token":      "",
			"email_change_expires_at": "",
		},
	})
}

func (r *accountRepository) ScheduleDeletion(ctx context.Context, id string, scheduledAt, scheduledFor time.Time) error {
	return r.updateByID(ctx, id, bson.M{
		"$set": bson.M{
			"deletion_scheduled_at":  scheduledAt,
			"deletion_scheduled_for": scheduledFor,
			"updated_at":             time.Now().UTC(),
		},
	})
}

func (r *accountRepository) CancelDeletion(ctx context.Context, id string) error {
	return r.updateByID(ctx, id, bson.M{
		"$set": bson.M{"updated_at": time.Now().UTC()},
		"$unset": bson.M{
			"deletion_scheduled_at":  "",
			"deletion_scheduled_for": "",
		},
	})
}

func (r *accountRepository) ListScheduledDeletions(ctx context.Context, limit int) ([]*model.Account, error) {
	filter := bson.M{"deletion_scheduled_for": bson.M{"$exists": true}}
	return r.findMany(ctx, filter, limit)
}

func (r *accountRepository) DeleteDue(ctx context.Context, id string, now time.Time) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}

	// The deadline is part of the filter: a schedule cancelled (or pushed
	// out) since the caller last read the account makes this a no-op.
	result, err := r.accounts.DeleteOne(ctx, bson.M{
		"_id":                    oid,
		"deletion_scheduled_for": bson.M{"$lte": now},
	})
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}

	r.logger.Info("account deleted", util.String("account_id", id))
	return nil
}

func (r *accountRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

// Helpers

func (r *accountRepository) findOne(ctx context.Context, filter bson.M) (*model.Account, error) {
	var acc model.Account
	if err := r.accounts.FindOne(ctx, filter).Decode(&acc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}
	return &acc, nil
}

func (r *accountRepository) findMany(ctx context.Context, filter bson.M, limit int) ([]*model.Account, error) {
	opts := options.Find().SetSort(bson.D{{Key: "deletion_scheduled_for", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.accounts.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*model.Account
	for cursor.Next(ctx) {
		var acc model.Account
		if err := cursor.Decode(&acc); err != nil {
			return nil, fmt.Errorf("failed to decode account: %w", err)
		}
		out = append(out, &acc)
	}
	return out, cursor.Err()
}

func (r *accountRepository) updateByID(ctx context.Context, id string, update bson.M) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}

	result, err := r.accounts.UpdateOne(ctx, bson.M{"_id": oid}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to update account: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
