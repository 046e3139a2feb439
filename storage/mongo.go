package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/heirloomvault/custody-backend/interfaces"
)

const (
	collPlans         = "plans"
	collTrustees      = "trustees"
	collBeneficiaries = "beneficiaries"
	collItems         = "inheritance_items"
	collAudit         = "audit_entries"
	collSalts         = "salt_records"
	collWrappedKeys   = "wrapped_keys"
)

// MongoStore implements PlanStore, AuditStore and KeyMaterialStore on
// MongoDB. Multi-row plan mutations run inside a session transaction so a
// partial bundle is never observable.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	log    *slog.Logger
}

// NewMongoStore connects to MongoDB, verifies the connection and ensures
// the indexes the stores rely on.
func NewMongoStore(ctx context.Context, uri, dbName string, log *slog.Logger) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &MongoStore{
		client: client,
		db:     client.Database(dbName),
		log:    log,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	// The unique (tenantId, seq) index is the backstop for chain linearity:
	// even if the per-tenant serialization were bypassed, a forked append
	// would be rejected here instead of silently forking the chain.
	auditIdx := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tenantId", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := s.db.Collection(collAudit).Indexes().CreateMany(ctx, auditIdx); err != nil {
		return fmt.Errorf("failed to create audit indexes: %w", err)
	}

	// Wrapped key records are scoped per owner; the unique index both
	// serves lookups and rejects a second record sneaking in for the same
	// owner and item outside the upsert path.
	wrappedIdx := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tenantId", Value: 1}, {Key: "ownerId", Value: 1}, {Key: "itemId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := s.db.Collection(collWrappedKeys).Indexes().CreateMany(ctx, wrappedIdx); err != nil {
		return fmt.Errorf("failed to create wrapped key indexes: %w", err)
	}

	planIdx := []mongo.IndexModel{
		{Keys: bson.D{{Key: "tenantId", Value: 1}, {Key: "ownerId", Value: 1}}},
	}
	if _, err := s.db.Collection(collPlans).Indexes().CreateMany(ctx, planIdx); err != nil {
		return fmt.Errorf("failed to create plan indexes: %w", err)
	}

	for _, coll := range []string{collTrustees, collBeneficiaries, collItems} {
		idx := []mongo.IndexModel{{Keys: bson.D{{Key: "planId", Value: 1}}}}
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", coll, err)
		}
	}

	trusteeEmailIdx := []mongo.IndexModel{{Keys: bson.D{{Key: "email", Value: 1}}}}
	if _, err := s.db.Collection(collTrustees).Indexes().CreateMany(ctx, trusteeEmailIdx); err != nil {
		return fmt.Errorf("failed to create trustee email index: %w", err)
	}
	return nil
}

// withTxn runs fn inside a session transaction.
func (s *MongoStore) withTxn(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func (s *MongoStore) CreatePlan(ctx context.Context, bundle interfaces.PlanBundle) error {
	return s.withTxn(ctx, func(ctx context.Context) error {
		if _, err := s.db.Collection(collPlans).InsertOne(ctx, bundle.Plan); err != nil {
			return fmt.Errorf("failed to insert plan: %w", err)
		}
		return s.insertChildRows(ctx, bundle)
	})
}

func (s *MongoStore) insertChildRows(ctx context.Context, bundle interfaces.PlanBundle) error {
	if len(bundle.Trustees) > 0 {
		docs := make([]any, len(bundle.Trustees))
		for i, t := range bundle.Trustees {
			docs[i] = t
		}
		if _, err := s.db.Collection(collTrustees).InsertMany(ctx, docs); err != nil {
			return fmt.Errorf("failed to insert trustees: %w", err)
		}
	}
	if len(bundle.Beneficiaries) > 0 {
		docs := make([]any, len(bundle.Beneficiaries))
		for i, b := range bundle.Beneficiaries {
			docs[i] = b
		}
		if _, err := s.db.Collection(collBeneficiaries).InsertMany(ctx, docs); err != nil {
			return fmt.Errorf("failed to insert beneficiaries: %w", err)
		}
	}
	if len(bundle.Items) > 0 {
		docs := make([]any, len(bundle.Items))
		for i, it := range bundle.Items {
			docs[i] = it
		}
		if _, err := s.db.Collection(collItems).InsertMany(ctx, docs); err != nil {
			return fmt.Errorf("failed to insert items: %w", err)
		}
	}
	return nil
}

func (s *MongoStore) deleteChildRows(ctx context.Context, planID string) error {
	filter := bson.M{"planId": planID}
	for _, coll := range []string{collTrustees, collBeneficiaries, collItems} {
		if _, err := s.db.Collection(coll).DeleteMany(ctx, filter); err != nil {
			return fmt.Errorf("failed to delete %s: %w", coll, err)
		}
	}
	return nil
}

func (s *MongoStore) GetPlan(ctx context.Context, planID string) (interfaces.PlanBundle, error) {
	var bundle interfaces.PlanBundle
	err := s.db.Collection(collPlans).FindOne(ctx, bson.M{"_id": planID}).Decode(&bundle.Plan)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return interfaces.PlanBundle{}, interfaces.ErrNotFound
	}
	if err != nil {
		return interfaces.PlanBundle{}, fmt.Errorf("failed to load plan: %w", err)
	}

	filter := bson.M{"planId": planID}
	cur, err := s.db.Collection(collTrustees).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "shareIndex", Value: 1}}))
	if err != nil {
		return interfaces.PlanBundle{}, fmt.Errorf("failed to load trustees: %w", err)
	}
	if err := cur.All(ctx, &bundle.Trustees); err != nil {
		return interfaces.PlanBundle{}, fmt.Errorf("failed to decode trustees: %w", err)
	}

	cur, err = s.db.Collection(collBeneficiaries).Find(ctx, filter)
	if err != nil {
		return interfaces.PlanBundle{}, fmt.Errorf("failed to load beneficiaries: %w", err)
	}
	if err := cur.All(ctx, &bundle.Beneficiaries); err != nil {
		return interfaces.PlanBundle{}, fmt.Errorf("failed to decode beneficiaries: %w", err)
	}

	cur, err = s.db.Collection(collItems).Find(ctx, filter)
	if err != nil {
		return interfaces.PlanBundle{}, fmt.Errorf("failed to load items: %w", err)
	}
	if err := cur.All(ctx, &bundle.Items); err != nil {
		return interfaces.PlanBundle{}, fmt.Errorf("failed to decode items: %w", err)
	}

	return bundle, nil
}

func (s *MongoStore) ListPlans(ctx context.Context, tenantID, ownerID string) ([]interfaces.Plan, error) {
	cur, err := s.db.Collection(collPlans).Find(ctx,
		bson.M{"tenantId": tenantID, "ownerId": ownerID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	var plans []interfaces.Plan
	if err := cur.All(ctx, &plans); err != nil {
		return nil, fmt.Errorf("failed to decode plans: %w", err)
	}
	return plans, nil
}

func (s *MongoStore) ReplacePlan(ctx context.Context, bundle interfaces.PlanBundle) error {
	return s.withTxn(ctx, func(ctx context.Context) error {
		res, err := s.db.Collection(collPlans).ReplaceOne(ctx, bson.M{"_id": bundle.Plan.ID}, bundle.Plan)
		if err != nil {
			return fmt.Errorf("failed to replace plan: %w", err)
		}
		if res.MatchedCount == 0 {
			return interfaces.ErrNotFound
		}
		if err := s.deleteChildRows(ctx, bundle.Plan.ID); err != nil {
			return err
		}
		return s.insertChildRows(ctx, bundle)
	})
}

func (s *MongoStore) DeletePlan(ctx context.Context, planID string) error {
	return s.withTxn(ctx, func(ctx context.Context) error {
		res, err := s.db.Collection(collPlans).DeleteOne(ctx, bson.M{"_id": planID})
		if err != nil {
			return fmt.Errorf("failed to delete plan: %w", err)
		}
		if res.DeletedCount == 0 {
			return interfaces.ErrNotFound
		}
		return s.deleteChildRows(ctx, planID)
	})
}

func (s *MongoStore) MarkTrusteeApproved(ctx context.Context, planID, trusteeID string, at time.Time) error {
	res, err := s.db.Collection(collTrustees).UpdateOne(ctx,
		bson.M{"_id": trusteeID, "planId": planID, "hasApproved": false},
		bson.M{"$set": bson.M{"hasApproved": true, "approvedAt": at}})
	if err != nil {
		return fmt.Errorf("failed to mark trustee approved: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	// Distinguish "missing" from "already approved".
	count, err := s.db.Collection(collTrustees).CountDocuments(ctx,
		bson.M{"_id": trusteeID, "planId": planID})
	if err != nil {
		return fmt.Errorf("failed to check trustee: %w", err)
	}
	if count == 0 {
		return interfaces.ErrNotFound
	}
	return interfaces.ErrAlreadyApproved
}

func (s *MongoStore) UpdatePlanStatus(ctx context.Context, planID string, from, to interfaces.PlanStatus, triggeredAt *time.Time) error {
	set := bson.M{"status": to}
	if triggeredAt != nil {
		set["triggeredAt"] = *triggeredAt
	}
	res, err := s.db.Collection(collPlans).UpdateOne(ctx,
		bson.M{"_id": planID, "status": from},
		bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update plan status: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	count, err := s.db.Collection(collPlans).CountDocuments(ctx, bson.M{"_id": planID})
	if err != nil {
		return fmt.Errorf("failed to check plan: %w", err)
	}
	if count == 0 {
		return interfaces.ErrNotFound
	}
	return interfaces.ErrInvalidState
}

func (s *MongoStore) ClaimTrustee(ctx context.Context, email, userID string) (int, error) {
	filter := bson.M{
		"email": bson.M{"$regex": "^" + regexp.QuoteMeta(email) + "$", "$options": "i"},
		"$or":   bson.A{bson.M{"userRef": ""}, bson.M{"userRef": bson.M{"$exists": false}}},
	}
	res, err := s.db.Collection(collTrustees).UpdateMany(ctx, filter,
		bson.M{"$set": bson.M{"userRef": userID}})
	if err != nil {
		return 0, fmt.Errorf("failed to claim trustee rows: %w", err)
	}
	return int(res.ModifiedCount), nil
}

func (s *MongoStore) AppendEntry(ctx context.Context, entry interfaces.AuditEntry) error {
	if _, err := s.db.Collection(collAudit).InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (s *MongoStore) LatestEntry(ctx context.Context, tenantID string) (interfaces.AuditEntry, error) {
	var entry interfaces.AuditEntry
	err := s.db.Collection(collAudit).FindOne(ctx,
		bson.M{"tenantId": tenantID},
		options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return interfaces.AuditEntry{}, interfaces.ErrNotFound
	}
	if err != nil {
		return interfaces.AuditEntry{}, fmt.Errorf("failed to load latest audit entry: %w", err)
	}
	return entry, nil
}

func (s *MongoStore) ListEntries(ctx context.Context, filter interfaces.AuditFilter) ([]interfaces.AuditEntry, error) {
	q := bson.M{"tenantId": filter.TenantID}
	if filter.UserID != "" {
		q["userId"] = filter.UserID
	}
	if filter.Action != "" {
		q["action"] = filter.Action
	}
	if filter.ResourceType != "" {
		q["resourceType"] = filter.ResourceType
	}
	if filter.ResourceID != "" {
		q["resourceId"] = filter.ResourceID
	}

	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cur, err := s.db.Collection(collAudit).Find(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	var entries []interfaces.AuditEntry
	if err := cur.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode audit entries: %w", err)
	}

	// Timestamps are RFC 3339 strings with varying fraction lengths, so the
	// range filter is applied after parsing rather than lexicographically.
	if !filter.Since.IsZero() || !filter.Until.IsZero() {
		filtered := entries[:0]
		for _, e := range entries {
			ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
			if err != nil {
				continue
			}
			if !filter.Since.IsZero() && ts.Before(filter.Since) {
				continue
			}
			if !filter.Until.IsZero() && ts.After(filter.Until) {
				continue
			}
			filtered = append(filtered, e)
		}
		entries = filtered
	}
	if filter.Limit > 0 && int64(len(entries)) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

func (s *MongoStore) CreateSaltRecord(ctx context.Context, rec interfaces.MasterKeySaltRecord) error {
	if _, err := s.db.Collection(collSalts).InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return interfaces.ErrSaltRecordExists
		}
		return fmt.Errorf("failed to insert salt record: %w", err)
	}
	return nil
}

func (s *MongoStore) GetSaltRecord(ctx context.Context, ownerID string) (interfaces.MasterKeySaltRecord, error) {
	var rec interfaces.MasterKeySaltRecord
	err := s.db.Collection(collSalts).FindOne(ctx, bson.M{"_id": ownerID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return interfaces.MasterKeySaltRecord{}, interfaces.ErrNotFound
	}
	if err != nil {
		return interfaces.MasterKeySaltRecord{}, fmt.Errorf("failed to load salt record: %w", err)
	}
	return rec, nil
}

func (s *MongoStore) PutWrappedKey(ctx context.Context, key interfaces.WrappedContentKey) error {
	filter := bson.M{"tenantId": key.TenantID, "ownerId": key.OwnerID, "itemId": key.ItemID}
	_, err := s.db.Collection(collWrappedKeys).ReplaceOne(ctx,
		filter, key, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to store wrapped key: %w", err)
	}
	return nil
}

func (s *MongoStore) GetWrappedKey(ctx context.Context, owner interfaces.Identity, itemID string) (interfaces.WrappedContentKey, error) {
	var key interfaces.WrappedContentKey
	err := s.db.Collection(collWrappedKeys).FindOne(ctx,
		bson.M{"tenantId": owner.TenantID, "ownerId": owner.UserID, "itemId": itemID}).Decode(&key)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return interfaces.WrappedContentKey{}, interfaces.ErrNotFound
	}
	if err != nil {
		return interfaces.WrappedContentKey{}, fmt.Errorf("failed to load wrapped key: %w", err)
	}
	return key, nil
}
