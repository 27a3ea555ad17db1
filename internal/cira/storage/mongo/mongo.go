// Package mongo adapts the teacher's internal/storage/database.go
// MongoStorage (a single flat collection fed by InsertMany) into a full
// ports.Storage implementation: one collection per entity kind, an
// atomic filtered UpdateOne for the Company lease CAS, and range queries
// for status/time-windowed listing. Connection lifecycle (mongo.Connect
// + Ping at construction, Disconnect on Close, a component-scoped
// *slog.Logger) follows the teacher's NewMongoStorage exactly.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cira-systems/cira-core/internal/cira/ciraerr"
	"github.com/cira-systems/cira-core/internal/cira/model"
)

// Store is a MongoDB-backed ports.Storage.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger

	companies   *mongo.Collection
	checkpoints *mongo.Collection
	pages       *mongo.Collection
	entities    *mongo.Collection
	analyses    *mongo.Collection
	tokenUsage  *mongo.Collection
	batches     *mongo.Collection
}

// New connects to uri and binds per-entity collections under database,
// pinging to fail fast on a bad connection string, matching the
// teacher's NewMongoStorage.
func New(uri, database string, logger *slog.Logger) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	db := client.Database(database)
	return &Store{
		client:      client,
		db:          db,
		logger:      logger.With("component", "mongo_storage"),
		companies:   db.Collection("companies"),
		checkpoints: db.Collection("checkpoints"),
		pages:       db.Collection("pages"),
		entities:    db.Collection("entities"),
		analyses:    db.Collection("analyses"),
		tokenUsage:  db.Collection("token_usage"),
		batches:     db.Collection("batches"),
	}, nil
}

func wrapMongoErr(op string, err error) error {
	if err == mongo.ErrNoDocuments {
		return ciraerr.NotFound(op, "")
	}
	return ciraerr.Wrap(ciraerr.CodeTransient, op, err)
}

func (s *Store) CreateCompany(ctx context.Context, c *model.Company) error {
	_, err := s.companies.InsertOne(ctx, c)
	if mongo.IsDuplicateKeyError(err) {
		return ciraerr.New(ciraerr.CodeValidation, "company "+c.ID+" already exists")
	}
	if err != nil {
		return wrapMongoErr("create company", err)
	}
	return nil
}

func (s *Store) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	var c model.Company
	if err := s.companies.FindOne(ctx, bson.M{"id": id}).Decode(&c); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ciraerr.NotFound("company", id)
		}
		return nil, wrapMongoErr("get company", err)
	}
	return &c, nil
}

func (s *Store) UpdateCompany(ctx context.Context, c *model.Company) error {
	res, err := s.companies.ReplaceOne(ctx, bson.M{"id": c.ID}, c)
	if err != nil {
		return wrapMongoErr("update company", err)
	}
	if res.MatchedCount == 0 {
		return ciraerr.NotFound("company", c.ID)
	}
	return nil
}

func (s *Store) DeleteCompany(ctx context.Context, id string) error {
	res, err := s.companies.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return wrapMongoErr("delete company", err)
	}
	if res.DeletedCount == 0 {
		return ciraerr.NotFound("company", id)
	}
	// Cascade: drop every collection's records keyed by companyId.
	for _, coll := range []*mongo.Collection{s.checkpoints, s.pages, s.entities, s.analyses, s.tokenUsage} {
		if _, err := coll.DeleteMany(ctx, bson.M{"companyId": id}); err != nil {
			s.logger.Warn("cascade delete incomplete", "companyId", id, "collection", coll.Name(), "err", err)
		}
	}
	return nil
}

func (s *Store) ListCompaniesByStatus(ctx context.Context, status model.CompanyStatus, since time.Time) ([]*model.Company, error) {
	cur, err := s.companies.Find(ctx, bson.M{"status": status, "createdAt": bson.M{"$gte": since}},
		options.Find().SetSort(bson.M{"createdAt": 1}))
	if err != nil {
		return nil, wrapMongoErr("list companies", err)
	}
	defer cur.Close(ctx)

	var out []*model.Company
	for cur.Next(ctx) {
		var c model.Company
		if err := cur.Decode(&c); err != nil {
			return nil, wrapMongoErr("decode company", err)
		}
		out = append(out, &c)
	}
	return out, cur.Err()
}

// AcquireLease performs the CAS filter+update in one round trip: match
// either no current owner, the same owner (idempotent re-acquire), or a
// lease whose lastCheckpointAt is older than staleAfter, then set
// leaseOwner atomically. A zero MatchedCount with no error means either
// the company does not exist or another owner holds a live lease.
func (s *Store) AcquireLease(ctx context.Context, companyID, owner string, staleAfter time.Duration) (bool, error) {
	staleCutoff := time.Now().Add(-staleAfter)
	filter := bson.M{
		"id": companyID,
		"$or": []bson.M{
			{"leaseOwner": ""},
			{"leaseOwner": owner},
			{"lastCheckpointAt": bson.M{"$lt": staleCutoff}},
		},
	}
	update := bson.M{"$set": bson.M{"leaseOwner": owner}}

	res, err := s.companies.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, wrapMongoErr("acquire lease", err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetCompany(ctx, companyID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *Store) ReleaseLease(ctx context.Context, companyID, owner string) error {
	_, err := s.companies.UpdateOne(ctx,
		bson.M{"id": companyID, "leaseOwner": owner},
		bson.M{"$set": bson.M{"leaseOwner": ""}})
	if err != nil {
		return wrapMongoErr("release lease", err)
	}
	return nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, companyID string, cp *model.Checkpoint) error {
	_, err := s.checkpoints.ReplaceOne(ctx,
		bson.M{"companyId": companyID},
		bson.M{"companyId": companyID, "checkpoint": cp},
		options.Replace().SetUpsert(true))
	if err != nil {
		return wrapMongoErr("save checkpoint", err)
	}
	now := time.Now()
	_, _ = s.companies.UpdateOne(ctx, bson.M{"id": companyID}, bson.M{"$set": bson.M{"lastCheckpointAt": now}})
	return nil
}

func (s *Store) LoadCheckpoint(ctx context.Context, companyID string) (*model.Checkpoint, error) {
	var doc struct {
		Checkpoint model.Checkpoint `bson:"checkpoint"`
	}
	if err := s.checkpoints.FindOne(ctx, bson.M{"companyId": companyID}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ciraerr.NotFound("checkpoint", companyID)
		}
		return nil, wrapMongoErr("load checkpoint", err)
	}
	return &doc.Checkpoint, nil
}

func (s *Store) DeleteCheckpoint(ctx context.Context, companyID string) error {
	if _, err := s.checkpoints.DeleteOne(ctx, bson.M{"companyId": companyID}); err != nil {
		return wrapMongoErr("delete checkpoint", err)
	}
	return nil
}

func (s *Store) AppendPages(ctx context.Context, pages []*model.Page) error {
	if len(pages) == 0 {
		return nil
	}
	docs := make([]any, len(pages))
	for i, p := range pages {
		docs[i] = p
	}
	if _, err := s.pages.InsertMany(ctx, docs); err != nil {
		return wrapMongoErr("append pages", err)
	}
	return nil
}

func (s *Store) PagesForCompany(ctx context.Context, companyID string) ([]*model.Page, error) {
	cur, err := s.pages.Find(ctx, bson.M{"companyId": companyID})
	if err != nil {
		return nil, wrapMongoErr("list pages", err)
	}
	defer cur.Close(ctx)

	var out []*model.Page
	for cur.Next(ctx) {
		var p model.Page
		if err := cur.Decode(&p); err != nil {
			return nil, wrapMongoErr("decode page", err)
		}
		out = append(out, &p)
	}
	return out, cur.Err()
}

func (s *Store) ContentHashExists(ctx context.Context, companyID, hash string) (bool, error) {
	count, err := s.pages.CountDocuments(ctx, bson.M{"companyId": companyID, "contentHash": hash}, options.Count().SetLimit(1))
	if err != nil {
		return false, wrapMongoErr("check content hash", err)
	}
	return count > 0, nil
}

func (s *Store) AppendEntities(ctx context.Context, entities []*model.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	docs := make([]any, len(entities))
	for i, e := range entities {
		docs[i] = e
	}
	if _, err := s.entities.InsertMany(ctx, docs); err != nil {
		return wrapMongoErr("append entities", err)
	}
	return nil
}

func (s *Store) EntitiesForCompany(ctx context.Context, companyID string) ([]*model.Entity, error) {
	cur, err := s.entities.Find(ctx, bson.M{"companyId": companyID})
	if err != nil {
		return nil, wrapMongoErr("list entities", err)
	}
	defer cur.Close(ctx)

	var out []*model.Entity
	for cur.Next(ctx) {
		var e model.Entity
		if err := cur.Decode(&e); err != nil {
			return nil, wrapMongoErr("decode entity", err)
		}
		out = append(out, &e)
	}
	return out, cur.Err()
}

func (s *Store) SaveAnalysis(ctx context.Context, a *model.Analysis) error {
	if _, err := s.analyses.InsertOne(ctx, a); err != nil {
		return wrapMongoErr("save analysis", err)
	}
	return nil
}

func (s *Store) AnalysesForCompany(ctx context.Context, companyID string) ([]*model.Analysis, error) {
	cur, err := s.analyses.Find(ctx, bson.M{"companyId": companyID}, options.Find().SetSort(bson.M{"version": 1}))
	if err != nil {
		return nil, wrapMongoErr("list analyses", err)
	}
	defer cur.Close(ctx)

	var out []*model.Analysis
	for cur.Next(ctx) {
		var a model.Analysis
		if err := cur.Decode(&a); err != nil {
			return nil, wrapMongoErr("decode analysis", err)
		}
		out = append(out, &a)
	}
	return out, cur.Err()
}

// PruneOldAnalyses deletes every version below the (keep)-th most
// recent, per spec.md §3's retention rule.
func (s *Store) PruneOldAnalyses(ctx context.Context, companyID string, keep int) error {
	all, err := s.AnalysesForCompany(ctx, companyID)
	if err != nil {
		return err
	}
	if len(all) <= keep {
		return nil
	}
	cutoff := all[len(all)-keep].Version
	_, err = s.analyses.DeleteMany(ctx, bson.M{"companyId": companyID, "version": bson.M{"$lt": cutoff}})
	if err != nil {
		return wrapMongoErr("prune analyses", err)
	}
	return nil
}

func (s *Store) AppendTokenUsage(ctx context.Context, usage []*model.TokenUsage) error {
	if len(usage) == 0 {
		return nil
	}
	docs := make([]any, len(usage))
	for i, u := range usage {
		docs[i] = u
	}
	if _, err := s.tokenUsage.InsertMany(ctx, docs); err != nil {
		return wrapMongoErr("append token usage", err)
	}
	return nil
}

func (s *Store) TokenUsageForCompany(ctx context.Context, companyID string) ([]*model.TokenUsage, error) {
	cur, err := s.tokenUsage.Find(ctx, bson.M{"companyId": companyID})
	if err != nil {
		return nil, wrapMongoErr("list token usage", err)
	}
	defer cur.Close(ctx)

	var out []*model.TokenUsage
	for cur.Next(ctx) {
		var u model.TokenUsage
		if err := cur.Decode(&u); err != nil {
			return nil, wrapMongoErr("decode token usage", err)
		}
		out = append(out, &u)
	}
	return out, cur.Err()
}

func (s *Store) CreateBatchJob(ctx context.Context, b *model.BatchJob) error {
	_, err := s.batches.InsertOne(ctx, b)
	if mongo.IsDuplicateKeyError(err) {
		return ciraerr.New(ciraerr.CodeValidation, "batch "+b.ID+" already exists")
	}
	if err != nil {
		return wrapMongoErr("create batch", err)
	}
	return nil
}

func (s *Store) GetBatchJob(ctx context.Context, id string) (*model.BatchJob, error) {
	var b model.BatchJob
	if err := s.batches.FindOne(ctx, bson.M{"id": id}).Decode(&b); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ciraerr.NotFound("batch", id)
		}
		return nil, wrapMongoErr("get batch", err)
	}
	return &b, nil
}

func (s *Store) UpdateBatchJob(ctx context.Context, b *model.BatchJob) error {
	res, err := s.batches.ReplaceOne(ctx, bson.M{"id": b.ID}, b)
	if err != nil {
		return wrapMongoErr("update batch", err)
	}
	if res.MatchedCount == 0 {
		return ciraerr.NotFound("batch", b.ID)
	}
	return nil
}

func (s *Store) Close() error {
	s.logger.Info("mongodb storage closing")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
