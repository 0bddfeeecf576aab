package tenancy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Persistence errors for tenant records.
var (
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrDuplicateCode      = errors.New("tenant code already in use")
	ErrDuplicateSubdomain = errors.New("subdomain already in use")
)

// Store persists tenant records in the companies collection.
type Store struct {
	companies *mongo.Collection
	counters  *mongo.Collection
}

// NewStore creates a store over the given database. Collection names follow
// the platform's existing schema: tenants live in "companies".
func NewStore(db *mongo.Database) *Store {
	return &Store{
		companies: db.Collection("companies"),
		counters:  db.Collection("counters"),
	}
}

// EnsureIndexes creates the uniqueness indexes backing the duplicate
// pre-checks. Subdomain is sparse since domain-less tenants omit it.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.companies.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "code", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "subdomain", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
	})
	if err != nil {
		return fmt.Errorf("create company indexes: %w", err)
	}
	return nil
}

// Create validates uniqueness and inserts a new tenant in pending status.
// Duplicates are rejected before any document is written so a doomed request
// never leaves partial state behind.
func (s *Store) Create(ctx context.Context, tenant *Tenant) error {
	if tenant.Code == "" {
		return fmt.Errorf("tenant code is required")
	}

	count, err := s.companies.CountDocuments(ctx, bson.M{
		"code":   tenant.Code,
		"status": bson.M{"$ne": StatusDeleted},
	})
	if err != nil {
		return fmt.Errorf("check code uniqueness: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateCode, tenant.Code)
	}

	if tenant.Subdomain != "" {
		count, err = s.companies.CountDocuments(ctx, bson.M{
			"subdomain": tenant.Subdomain,
			"status":    bson.M{"$ne": StatusDeleted},
		})
		if err != nil {
			return fmt.Errorf("check subdomain uniqueness: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("%w: %q", ErrDuplicateSubdomain, tenant.Subdomain)
		}
	}

	now := time.Now().UTC()
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	if tenant.Status == "" {
		tenant.Status = StatusPending
	}
	tenant.CreatedAt = now
	tenant.UpdatedAt = now

	if _, err := s.companies.InsertOne(ctx, tenant); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %q", ErrDuplicateCode, tenant.Code)
		}
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

// GetByCode loads one tenant by its unique code.
func (s *Store) GetByCode(ctx context.Context, code string) (*Tenant, error) {
	var tenant Tenant
	err := s.companies.FindOne(ctx, bson.M{"code": code}).Decode(&tenant)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: %q", ErrTenantNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant %q: %w", code, err)
	}
	return &tenant, nil
}

// List returns all non-deleted tenants, newest first.
func (s *Store) List(ctx context.Context) ([]Tenant, error) {
	cursor, err := s.companies.Find(ctx,
		bson.M{"status": bson.M{"$ne": StatusDeleted}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer cursor.Close(ctx)

	var tenants []Tenant
	if err := cursor.All(ctx, &tenants); err != nil {
		return nil, fmt.Errorf("decode tenant list: %w", err)
	}
	return tenants, nil
}

// RecordedOffsets returns the port offsets of every non-deleted tenant with
// an allocation. Input for NextPortOffset.
func (s *Store) RecordedOffsets(ctx context.Context) ([]int, error) {
	cursor, err := s.companies.Find(ctx,
		bson.M{
			"status":      bson.M{"$ne": StatusDeleted},
			"port_offset": bson.M{"$gt": 0},
		},
		options.Find().SetProjection(bson.M{"port_offset": 1}))
	if err != nil {
		return nil, fmt.Errorf("load recorded offsets: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		PortOffset int `bson:"port_offset"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode recorded offsets: %w", err)
	}

	offsets := make([]int, 0, len(docs))
	for _, d := range docs {
		offsets = append(offsets, d.PortOffset)
	}
	return offsets, nil
}

// AllocateOffset atomically reserves the next offset via a find-and-increment
// on a counter document. Unlike NextPortOffset it is safe under concurrent
// tenant creation, at the cost of never reusing gaps. floor seeds the counter
// the first time so the atomic path starts above all historic allocations.
func (s *Store) AllocateOffset(ctx context.Context, floor int) (int, error) {
	res := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "port_offset"},
		bson.A{
			bson.M{"$set": bson.M{
				"value": bson.M{"$add": bson.A{
					bson.M{"$max": bson.A{bson.M{"$ifNull": bson.A{"$value", floor - 1}}, floor - 1}},
					1,
				}},
			}},
		},
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After))

	var doc struct {
		Value int `bson:"value"`
	}
	if err := res.Decode(&doc); err != nil {
		return 0, fmt.Errorf("allocate port offset: %w", err)
	}
	return doc.Value, nil
}

// SetProvisioned records the outcome of a successful deployment: stack
// reference, concrete ports, public URLs, and active status in one update.
func (s *Store) SetProvisioned(ctx context.Context, code string, stackID int, stackName string, offset int, ports Ports, urls URLs) error {
	update := bson.M{"$set": bson.M{
		"stack_id":       stackID,
		"stack_name":     stackName,
		"port_offset":    offset,
		"ports":          ports,
		"urls":           urls,
		"status":         StatusActive,
		"failure_reason": "",
		"updated_at":     time.Now().UTC(),
	}}
	return s.updateByCode(ctx, code, update)
}

// UpdateStatus transitions a tenant's lifecycle status. reason is stored for
// failed transitions and cleared otherwise.
func (s *Store) UpdateStatus(ctx context.Context, code string, status Status, reason string) error {
	update := bson.M{"$set": bson.M{
		"status":         status,
		"failure_reason": reason,
		"updated_at":     time.Now().UTC(),
	}}
	return s.updateByCode(ctx, code, update)
}

// ClearStack detaches the orchestration stack reference, typically after the
// stack was deleted on the platform.
func (s *Store) ClearStack(ctx context.Context, code string) error {
	update := bson.M{
		"$unset": bson.M{"stack_id": "", "stack_name": ""},
		"$set":   bson.M{"updated_at": time.Now().UTC()},
	}
	return s.updateByCode(ctx, code, update)
}

// HardDelete removes the tenant document entirely. Callers are responsible
// for deleting the orchestration stack first.
func (s *Store) HardDelete(ctx context.Context, code string) error {
	res, err := s.companies.DeleteOne(ctx, bson.M{"code": code})
	if err != nil {
		return fmt.Errorf("delete tenant %q: %w", code, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %q", ErrTenantNotFound, code)
	}
	return nil
}

func (s *Store) updateByCode(ctx context.Context, code string, update interface{}) error {
	res, err := s.companies.UpdateOne(ctx, bson.M{"code": code}, update)
	if err != nil {
		return fmt.Errorf("update tenant %q: %w", code, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %q", ErrTenantNotFound, code)
	}
	return nil
}
