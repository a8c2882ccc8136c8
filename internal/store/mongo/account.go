package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/wordgate/apiserver/internal/store"
	"github.com/wordgate/apiserver/types"
)

// AccountRepository persists accounts in MongoDB.
type AccountRepository struct {
	col *mongo.Collection
}

func normalizeAccount(a types.Account) types.Account {
	a.ExpirationDate = a.ExpirationDate.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a
}

func (r *AccountRepository) Create(ctx context.Context, account types.Account) (types.Account, error) {
	account.ExpirationDate = mongoTime(account.ExpirationDate)
	account.CreatedAt = mongoTime(account.CreatedAt)
	account.UpdatedAt = mongoTime(account.UpdatedAt)

	if _, err := r.col.InsertOne(ctx, account); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return types.Account{}, store.ErrDuplicate
		}
		return types.Account{}, fmt.Errorf("wordgate/mongo: create account: %w", err)
	}
	return account, nil
}

func (r *AccountRepository) findOne(ctx context.Context, filter bson.M) (types.Account, error) {
	var account types.Account
	if err := r.col.FindOne(ctx, filter).Decode(&account); err != nil {
		if isNoDocuments(err) {
			return types.Account{}, store.ErrNotFound
		}
		return types.Account{}, fmt.Errorf("wordgate/mongo: get account: %w", err)
	}
	return normalizeAccount(account), nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (types.Account, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (types.Account, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *AccountRepository) GetByCustomerRef(ctx context.Context, ref string) (types.Account, error) {
	return r.findOne(ctx, bson.M{"customer_ref": ref})
}

func (r *AccountRepository) List(ctx context.Context) ([]types.Account, error) {
	return r.find(ctx, bson.M{})
}

func (r *AccountRepository) ListNonFree(ctx context.Context) ([]types.Account, error) {
	return r.find(ctx, bson.M{"tier": bson.M{"$ne": types.TierFree}})
}

func (r *AccountRepository) find(ctx context.Context, filter bson.M) ([]types.Account, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("wordgate/mongo: list accounts: %w", err)
	}
	accounts := make([]types.Account, 0)
	if err := cursor.All(ctx, &accounts); err != nil {
		return nil, fmt.Errorf("wordgate/mongo: list accounts: %w", err)
	}
	for i := range accounts {
		accounts[i] = normalizeAccount(accounts[i])
	}
	return accounts, nil
}

func (r *AccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string, now time.Time) error {
	return r.setOne(ctx, id, bson.M{"password_hash": passwordHash, "updated_at": mongoTime(now)})
}

func (r *AccountRepository) SetAdmin(ctx context.Context, id string, isAdmin bool, now time.Time) error {
	return r.setOne(ctx, id, bson.M{"is_admin": isAdmin, "updated_at": mongoTime(now)})
}

func (r *AccountRepository) SetCustomerRef(ctx context.Context, id, ref string, now time.Time) error {
	return r.setOne(ctx, id, bson.M{"customer_ref": ref, "updated_at": mongoTime(now)})
}

func (r *AccountRepository) ResetUsage(ctx context.Context, id string, now time.Time) error {
	return r.setOne(ctx, id, bson.M{"words_used": int64(0), "updated_at": mongoTime(now)})
}

func (r *AccountRepository) setOne(ctx context.Context, id string, set bson.M) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("wordgate/mongo: update account: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// IncrementUsage adds n to the counters only if the document still has room
// for it. The filter and the $inc are evaluated atomically by the server.
func (r *AccountRepository) IncrementUsage(ctx context.Context, id string, n int64, now time.Time) (types.Account, bool, error) {
	filter := bson.M{
		"_id":   id,
		"$expr": bson.M{"$lte": bson.A{bson.M{"$add": bson.A{"$words_used", n}}, "$word_limit"}},
	}
	update := bson.M{
		"$inc": bson.M{"words_used": n, "total_words_processed": n},
		"$set": bson.M{"updated_at": mongoTime(now)},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var account types.Account
	err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&account)
	if err == nil {
		return normalizeAccount(account), true, nil
	}
	if !isNoDocuments(err) {
		return types.Account{}, false, fmt.Errorf("wordgate/mongo: increment usage: %w", err)
	}

	account, err = r.GetByID(ctx, id)
	if err != nil {
		return types.Account{}, false, err
	}
	return account, false, nil
}

func (r *AccountRepository) ResetPeriod(ctx context.Context, id string, u store.ExpirationUpdate) (bool, error) {
	return r.guarded(ctx, id, u, bson.M{
		"words_used":      int64(0),
		"expiration_date": mongoTime(u.NextExpiration),
		"updated_at":      mongoTime(u.Now),
	})
}

func (r *AccountRepository) DowngradeToFree(ctx context.Context, id string, u store.ExpirationUpdate, wordLimit int64) (bool, error) {
	return r.guarded(ctx, id, u, bson.M{
		"tier":            types.TierFree,
		"tier_category":   types.CategoryDaily,
		"word_limit":      wordLimit,
		"expiration_date": mongoTime(u.NextExpiration),
		"updated_at":      mongoTime(u.Now),
	})
}

func (r *AccountRepository) guarded(ctx context.Context, id string, u store.ExpirationUpdate, set bson.M) (bool, error) {
	filter := bson.M{
		"_id":             id,
		"tier":            u.ObservedTier,
		"expiration_date": bson.M{"$lt": mongoTime(u.Now)},
	}
	res, err := r.col.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("wordgate/mongo: expire account: %w", err)
	}
	return res.MatchedCount > 0, nil
}

func (r *AccountRepository) UpdateTier(ctx context.Context, id string, u store.TierUpdate) (types.Account, error) {
	set := bson.M{"tier": u.Tier, "updated_at": mongoTime(u.Now)}
	if u.Category != nil {
		set["tier_category"] = *u.Category
	}
	if u.WordLimit != nil {
		set["word_limit"] = *u.WordLimit
	}
	if u.Status != nil {
		set["status"] = *u.Status
	}
	if u.Expiration != nil {
		set["expiration_date"] = mongoTime(*u.Expiration)
	}
	if u.ResetUsage {
		set["words_used"] = int64(0)
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var account types.Account
	if err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&account); err != nil {
		if isNoDocuments(err) {
			return types.Account{}, store.ErrNotFound
		}
		return types.Account{}, fmt.Errorf("wordgate/mongo: update tier: %w", err)
	}
	return normalizeAccount(account), nil
}
