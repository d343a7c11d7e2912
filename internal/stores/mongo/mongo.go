package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inboxpilot/provisioner/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	oauthStatesCollection       = "oauth_states"
	integrationTokensCollection = "integration_tokens"
	workflowsCollection         = "workflows"
)

type oauthStateDocument struct {
	State      string    `bson:"state"`
	UserID     string    `bson:"user_id"`
	TemplateID string    `bson:"template_id"`
	CreatedAt  time.Time `bson:"created_at"`
}

type integrationTokensDocument struct {
	UserID       string    `bson:"user_id"`
	Provider     string    `bson:"provider"`
	AccessToken  string    `bson:"access_token"`
	RefreshToken string    `bson:"refresh_token"`
	Scope        string    `bson:"scope"`
	Expiry       time.Time `bson:"expiry,omitempty"`
	Email        string    `bson:"email"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

type workflowDocument struct {
	ID            string    `bson:"id"`
	UserID        string    `bson:"user_id"`
	TemplateID    string    `bson:"template_id"`
	Name          string    `bson:"name"`
	Description   string    `bson:"description"`
	N8NWorkflowID string    `bson:"n8n_workflow_id"`
	Status        string    `bson:"status"`
	CreatedAt     time.Time `bson:"created_at"`
}

// Store implements domain.StateStore on MongoDB.
type Store struct {
	client   *mongo.Client
	database *mongo.Database
}

type Opts struct {
	URI      string
	Database string
}

func New(ctx context.Context, opts Opts) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	store := NewWithDatabase(client.Database(opts.Database))
	store.client = client

	if err := store.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return store, nil
}

func NewWithDatabase(database *mongo.Database) *Store {
	return &Store{database: database}
}

func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.database.Client().Ping(ctx, nil)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	collections := map[string][]mongo.IndexModel{
		oauthStatesCollection: {
			{
				Keys:    bson.D{{Key: "state", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		integrationTokensCollection: {
			{
				Keys: bson.D{
					{Key: "user_id", Value: 1},
					{Key: "provider", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
		},
		workflowsCollection: {
			{
				Keys:    bson.D{{Key: "id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys: bson.D{
					{Key: "user_id", Value: 1},
					{Key: "created_at", Value: -1},
				},
			},
		},
	}

	for name, indexes := range collections {
		if _, err := s.database.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("failed to create indexes for %s: %w", name, err)
		}
	}

	return nil
}

func (s *Store) CreateOAuthState(ctx context.Context, state domain.OAuthState) error {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now().UTC()
	}

	_, err := s.database.Collection(oauthStatesCollection).InsertOne(ctx, oauthStateDocument{
		State:      state.State,
		UserID:     state.UserID,
		TemplateID: state.TemplateID,
		CreatedAt:  state.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrOAuthStateExists
		}
		return fmt.Errorf("failed to insert oauth state: %w", err)
	}

	return nil
}

func (s *Store) ConsumeOAuthState(ctx context.Context, state string) (domain.OAuthState, error) {
	var doc oauthStateDocument

	err := s.database.Collection(oauthStatesCollection).
		FindOneAndDelete(ctx, bson.M{"state": state}).
		Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.OAuthState{}, domain.ErrOAuthStateNotFound
		}
		return domain.OAuthState{}, fmt.Errorf("failed to consume oauth state: %w", err)
	}

	return domain.OAuthState{
		State:      doc.State,
		UserID:     doc.UserID,
		TemplateID: doc.TemplateID,
		CreatedAt:  doc.CreatedAt,
	}, nil
}

func (s *Store) UpsertIntegrationTokens(ctx context.Context, tokens domain.IntegrationTokens) error {
	now := time.Now().UTC()

	filter := bson.M{
		"user_id":  tokens.UserID,
		"provider": string(tokens.Provider),
	}

	set := bson.M{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"scope":         tokens.Scope,
		"email":         tokens.Email,
		"updated_at":    now,
	}

	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"created_at": now},
	}

	if tokens.Expiry.IsZero() {
		update["$unset"] = bson.M{"expiry": ""}
	} else {
		set["expiry"] = tokens.Expiry.UTC()
	}

	opts := options.Update().SetUpsert(true)
	if _, err := s.database.Collection(integrationTokensCollection).UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to upsert integration tokens: %w", err)
	}

	return nil
}

func (s *Store) GetLatestIntegrationTokens(ctx context.Context, userID string, provider domain.OAuthProvider) (domain.IntegrationTokens, error) {
	filter := bson.M{
		"user_id":  userID,
		"provider": string(provider),
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}})

	var doc integrationTokensDocument
	err := s.database.Collection(integrationTokensCollection).FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.IntegrationTokens{}, domain.ErrIntegrationTokensNotFound
		}
		return domain.IntegrationTokens{}, fmt.Errorf("failed to get integration tokens: %w", err)
	}

	return domain.IntegrationTokens{
		UserID:       doc.UserID,
		Provider:     domain.OAuthProvider(doc.Provider),
		AccessToken:  doc.AccessToken,
		RefreshToken: doc.RefreshToken,
		Scope:        doc.Scope,
		Expiry:       doc.Expiry,
		Email:        doc.Email,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}, nil
}

func (s *Store) CreateProvisionedWorkflow(ctx context.Context, workflow domain.ProvisionedWorkflow) error {
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = time.Now().UTC()
	}

	_, err := s.database.Collection(workflowsCollection).InsertOne(ctx, workflowDocument{
		ID:            workflow.ID,
		UserID:        workflow.UserID,
		TemplateID:    workflow.TemplateID,
		Name:          workflow.Name,
		Description:   workflow.Description,
		N8NWorkflowID: workflow.ExternalWorkflowID,
		Status:        string(workflow.Status),
		CreatedAt:     workflow.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to insert workflow: %w", err)
	}

	return nil
}

func (s *Store) ListProvisionedWorkflows(ctx context.Context, userID string) ([]domain.ProvisionedWorkflow, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := s.database.Collection(workflowsCollection).Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []workflowDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode workflows: %w", err)
	}

	workflows := make([]domain.ProvisionedWorkflow, 0, len(docs))
	for _, doc := range docs {
		workflows = append(workflows, domain.ProvisionedWorkflow{
			ID:                 doc.ID,
			UserID:             doc.UserID,
			TemplateID:         doc.TemplateID,
			Name:               doc.Name,
			Description:        doc.Description,
			ExternalWorkflowID: doc.N8NWorkflowID,
			Status:             domain.WorkflowStatus(doc.Status),
			CreatedAt:          doc.CreatedAt,
		})
	}

	return workflows, nil
}
