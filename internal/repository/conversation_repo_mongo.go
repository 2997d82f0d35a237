package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aihub/genai-rag/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ChatHistoryCollection 对话历史集合名
const ChatHistoryCollection = "chat_history"

type customHistory struct {
	HumanMessages []string `bson:"humanMessages"`
	AIMessages    []string `bson:"aiMessages"`
}

type chatHistoryDocument struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	CustomHistory customHistory      `bson:"customHistory"`
}

func (d *chatHistoryDocument) toConversation() *models.Conversation {
	return &models.Conversation{
		ID:            d.ID.Hex(),
		HumanMessages: append([]string{}, d.CustomHistory.HumanMessages...),
		AIMessages:    append([]string{}, d.CustomHistory.AIMessages...),
	}
}

// mongoConversationRepository 基于MongoDB的对话历史存储
type mongoConversationRepository struct {
	collection *mongo.Collection
}

// NewMongoConversationRepository 创建MongoDB对话历史仓库
func NewMongoConversationRepository(collection *mongo.Collection) ConversationStore {
	return &mongoConversationRepository{collection: collection}
}

func parseObjectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	return oid, nil
}

func (r *mongoConversationRepository) FetchOrCreate(ctx context.Context, id *string) (*models.Conversation, error) {
	if isAbsent(id) {
		conv := models.NewConversation("")
		doc := chatHistoryDocument{
			CustomHistory: customHistory{
				HumanMessages: conv.HumanMessages,
				AIMessages:    conv.AIMessages,
			},
		}
		res, err := r.collection.InsertOne(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		oid, ok := res.InsertedID.(primitive.ObjectID)
		if !ok {
			return nil, fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
		}
		conv.ID = oid.Hex()
		return conv, nil
	}

	oid, err := parseObjectID(*id)
	if err != nil {
		return nil, err
	}

	var doc chatHistoryDocument
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, *id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", *id, err)
	}
	return doc.toConversation(), nil
}

func (r *mongoConversationRepository) Persist(ctx context.Context, conv *models.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	oid, err := parseObjectID(conv.ID)
	if err != nil {
		return err
	}

	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{
			"customHistory.humanMessages": conv.HumanMessages,
			"customHistory.aiMessages":    conv.AIMessages,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to persist conversation %s: %w", conv.ID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, conv.ID)
	}
	return nil
}

func (r *mongoConversationRepository) AppendTurn(ctx context.Context, id, human, ai string) (*models.Conversation, error) {
	oid, err := parseObjectID(id)
	if err != nil {
		return nil, err
	}

	var doc chatHistoryDocument
	err = r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$push": bson.M{
			"customHistory.humanMessages": human,
			"customHistory.aiMessages":    ai,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to append turn to conversation %s: %w", id, err)
	}
	return doc.toConversation(), nil
}

func (r *mongoConversationRepository) ListIDs(ctx context.Context) ([]string, error) {
	cursor, err := r.collection.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	ids := make([]string, 0)
	for cursor.Next(ctx) {
		var doc struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode conversation id: %w", err)
		}
		ids = append(ids, doc.ID.Hex())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return ids, nil
}
